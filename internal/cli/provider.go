package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/bainianlaoyao/stream-note/internal/analysis"
	"github.com/bainianlaoyao/stream-note/internal/llm"
	"github.com/bainianlaoyao/stream-note/internal/model"
	"github.com/bainianlaoyao/stream-note/internal/notes"
	"github.com/bainianlaoyao/stream-note/internal/store"
)

func init() {
	providerCmd := &cobra.Command{
		Use:   "provider",
		Short: "Manage the owner's LLM provider override",
	}

	setCmd := &cobra.Command{
		Use:   "set",
		Short: "Store a provider override for the owner",
		Run:   runProviderSet,
	}
	setCmd.Flags().String("provider", llm.ProviderOpenAICompatible, "Provider: openai_compatible or dashscope")
	setCmd.Flags().String("base-url", "", "API base URL")
	setCmd.Flags().String("api-key", "", "API key (empty keeps the stored key)")
	setCmd.Flags().String("model", "", "Model name")
	setCmd.Flags().Float64("timeout", 0, "Request timeout in seconds (0 keeps the default)")
	setCmd.Flags().Int("max-attempts", 0, "Attempts per extraction call (0 keeps the default)")
	setCmd.Flags().Bool("disable-thinking", true, "Ask reasoning models to skip thinking")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective provider settings",
		Run:   runProviderShow,
	}

	providerCmd.AddCommand(setCmd, showCmd)
	RootCmd.AddCommand(providerCmd)
}

func runProviderSet(cmd *cobra.Command, args []string) {
	f := cmd.Flags()
	provider, _ := f.GetString("provider")
	baseURL, _ := f.GetString("base-url")
	apiKey, _ := f.GetString("api-key")
	modelName, _ := f.GetString("model")
	timeout, _ := f.GetFloat64("timeout")
	maxAttempts, _ := f.GetInt("max-attempts")
	disableThinking, _ := f.GetBool("disable-thinking")

	if provider != llm.ProviderOpenAICompatible && provider != llm.ProviderDashScope {
		exitErr("provider set", errors.New("provider must be openai_compatible or dashscope"))
	}

	a := mustOpenApp()
	defer a.Close()

	v, err := a.svc.SetProvider(cmd.Context(), model.ProviderSetting{
		OwnerID:         ownerID,
		Provider:        provider,
		BaseURL:         baseURL,
		APIKey:          apiKey,
		Model:           modelName,
		TimeoutSeconds:  timeout,
		MaxAttempts:     maxAttempts,
		DisableThinking: disableThinking,
	})
	if err != nil {
		exitErr("provider set", err)
	}
	printJSON(v)
}

type providerShow struct {
	Source          string  `json:"source"`
	Provider        string  `json:"provider"`
	BaseURL         string  `json:"base_url"`
	Model           string  `json:"model"`
	TimeoutSeconds  float64 `json:"timeout_seconds"`
	MaxAttempts     int     `json:"max_attempts"`
	DisableThinking bool    `json:"disable_thinking"`
	APIKeySet       bool    `json:"api_key_set"`
	APIKeyMasked    string  `json:"api_key_masked,omitempty"`
}

func runProviderShow(cmd *cobra.Command, args []string) {
	a := mustOpenApp()
	defer a.Close()

	source := "environment"
	var override *model.ProviderSetting
	v, err := a.svc.Provider(cmd.Context(), ownerID)
	switch {
	case err == nil:
		source = "owner"
		override = &v.ProviderSetting
	case !errors.Is(err, store.ErrNotFound):
		exitErr("provider show", err)
	}

	s := analysis.SettingsFor(a.cfg.LLM(), override)
	printJSON(providerShow{
		Source:          source,
		Provider:        s.Provider,
		BaseURL:         s.BaseURL,
		Model:           s.Model,
		TimeoutSeconds:  s.Timeout.Seconds(),
		MaxAttempts:     s.MaxAttempts,
		DisableThinking: s.DisableThinking,
		APIKeySet:       s.APIKey != "",
		APIKeyMasked:    notes.MaskKey(s.APIKey),
	})
}
