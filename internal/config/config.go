package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Options holds the full configuration of one invocation. It is built once
// by Load and never mutated afterwards; every component receives it by
// reference instead of reading ambient state mid-run.
type Options struct {
	// Target identity
	Owner      string
	Repo       string
	WorkflowID string // workflow file name ("ci.yml") or numeric workflow id
	Token      string

	// Timing
	WaitInterval   time.Duration
	FirstWait      time.Duration
	TriggerTimeout time.Duration

	// Behavior toggles
	PropagateFailure bool
	TriggerWorkflow  bool
	WaitWorkflow     bool

	// Dispatch parameters
	Ref           string
	ClientPayload json.RawMessage // compacted, possibly with the actor injected
	Actor         string

	// Downstream notification
	CommentDownstreamURL string
	CommentToken         string

	// API endpoint override (GitHub Enterprise)
	APIBaseURL string
}

// rawConfig is the viper-shaped form of Options, with durations still in
// the units the environment uses (seconds and minutes).
type rawConfig struct {
	Owner                 string
	Repo                  string
	WorkflowFileName      string
	GithubToken           string
	WaitIntervalSeconds   int
	FirstWaitMinutes      int
	TriggerTimeoutSeconds int
	PropagateFailure      bool
	TriggerWorkflow       bool
	WaitWorkflow          bool
	Ref                   string
	ClientPayload         string
	GithubUser            string
	CommentDownstreamURL  string
	CommentGithubToken    string
	GithubAPIURL          string
}

// Load builds Options from environment variables, with the given command
// flags (may be nil) taking precedence. Validation happens before any
// network activity; a missing required variable is a fatal configuration
// error.
func Load(flags *pflag.FlagSet) (*Options, error) {
	v := viper.New()

	setDefaults(v)

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	envMappings := map[string]string{
		"Owner":                 "OWNER",
		"Repo":                  "REPO",
		"WorkflowFileName":      "WORKFLOW_FILE_NAME",
		"GithubToken":           "GITHUB_TOKEN",
		"WaitIntervalSeconds":   "WAIT_INTERVAL",
		"FirstWaitMinutes":      "FIRST_WAIT_MINUTES",
		"TriggerTimeoutSeconds": "TRIGGER_TIMEOUT",
		"PropagateFailure":      "PROPAGATE_FAILURE",
		"TriggerWorkflow":       "TRIGGER_WORKFLOW",
		"WaitWorkflow":          "WAIT_WORKFLOW",
		"Ref":                   "REF",
		"ClientPayload":         "CLIENT_PAYLOAD",
		"GithubUser":            "GITHUB_USER",
		"CommentDownstreamURL":  "COMMENT_DOWNSTREAM_URL",
		"CommentGithubToken":    "COMMENT_GITHUB_TOKEN",
		"GithubAPIURL":          "GITHUB_API_URL",
	}

	for configKey, envVar := range envMappings {
		if err := v.BindEnv(configKey, envVar); err != nil {
			log.Warn().Err(err).Msgf("Failed to bind environment variable %s for %s", envVar, configKey)
		}
	}

	if flags != nil {
		flagMappings := map[string]string{
			"Owner":            "owner",
			"Repo":             "repo",
			"WorkflowFileName": "workflow",
			"Ref":              "ref",
		}
		for configKey, flagName := range flagMappings {
			if flag := flags.Lookup(flagName); flag != nil {
				if err := v.BindPFlag(configKey, flag); err != nil {
					log.Warn().Err(err).Msgf("Failed to bind flag %s for %s", flagName, configKey)
				}
			}
		}
	}

	var raw rawConfig
	if err := v.Unmarshal(&raw); err != nil {
		return nil, fmt.Errorf("unable to decode configuration: %w", err)
	}

	if err := validate(&raw); err != nil {
		return nil, err
	}

	payload, err := normalizePayload(raw.ClientPayload, raw.GithubUser)
	if err != nil {
		return nil, err
	}

	options := &Options{
		Owner:                raw.Owner,
		Repo:                 raw.Repo,
		WorkflowID:           raw.WorkflowFileName,
		Token:                raw.GithubToken,
		WaitInterval:         time.Duration(raw.WaitIntervalSeconds) * time.Second,
		FirstWait:            time.Duration(raw.FirstWaitMinutes) * time.Minute,
		TriggerTimeout:       time.Duration(raw.TriggerTimeoutSeconds) * time.Second,
		PropagateFailure:     raw.PropagateFailure,
		TriggerWorkflow:      raw.TriggerWorkflow,
		WaitWorkflow:         raw.WaitWorkflow,
		Ref:                  raw.Ref,
		ClientPayload:        payload,
		Actor:                raw.GithubUser,
		CommentDownstreamURL: raw.CommentDownstreamURL,
		CommentToken:         raw.CommentGithubToken,
		APIBaseURL:           raw.GithubAPIURL,
	}

	log.Debug().
		Str("owner", options.Owner).
		Str("repo", options.Repo).
		Str("workflow", options.WorkflowID).
		Str("ref", options.Ref).
		Msg("Configuration loaded")

	return options, nil
}

// DispatchInputs decodes the normalized payload into the inputs map the
// dispatch call expects. A nil payload yields nil inputs.
func (o *Options) DispatchInputs() (map[string]interface{}, error) {
	if len(o.ClientPayload) == 0 {
		return nil, nil
	}

	var inputs map[string]interface{}
	if err := json.Unmarshal(o.ClientPayload, &inputs); err != nil {
		return nil, fmt.Errorf("client payload is not a JSON object: %w", err)
	}

	return inputs, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("WaitIntervalSeconds", 10)
	v.SetDefault("FirstWaitMinutes", 0)
	v.SetDefault("TriggerTimeoutSeconds", 120)
	v.SetDefault("PropagateFailure", true)
	v.SetDefault("TriggerWorkflow", true)
	v.SetDefault("WaitWorkflow", true)
	v.SetDefault("Ref", "main")
}

func validate(raw *rawConfig) error {
	var missingVars []string

	if raw.Owner == "" {
		missingVars = append(missingVars, "OWNER")
	}
	if raw.Repo == "" {
		missingVars = append(missingVars, "REPO")
	}
	if raw.GithubToken == "" {
		missingVars = append(missingVars, "GITHUB_TOKEN")
	}
	if raw.WorkflowFileName == "" {
		missingVars = append(missingVars, "WORKFLOW_FILE_NAME")
	}

	if len(missingVars) > 0 {
		return fmt.Errorf("missing required environment variables: %s\n\nUsage: OWNER=<org> REPO=<repo> GITHUB_TOKEN=<token> WORKFLOW_FILE_NAME=<file.yml> runbridge trigger",
			strings.Join(missingVars, ", "))
	}

	return nil
}

// normalizePayload compacts the client payload and, when both a payload and
// an actor are present, injects the actor as the github_user field so the
// triggered workflow can tell who asked for it.
func normalizePayload(raw, actor string) (json.RawMessage, error) {
	if raw == "" {
		return nil, nil
	}

	if actor != "" {
		var payload map[string]interface{}
		if err := json.Unmarshal([]byte(raw), &payload); err != nil {
			return nil, fmt.Errorf("CLIENT_PAYLOAD is not a JSON object: %w", err)
		}
		payload["github_user"] = actor

		normalized, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to re-encode client payload: %w", err)
		}
		return normalized, nil
	}

	var compacted bytes.Buffer
	if err := json.Compact(&compacted, []byte(raw)); err != nil {
		return nil, fmt.Errorf("CLIENT_PAYLOAD is not valid JSON: %w", err)
	}

	return json.RawMessage(compacted.Bytes()), nil
}
