package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/killallgit/finsight/pkg/backend"
	"github.com/killallgit/finsight/pkg/chat"
	"github.com/killallgit/finsight/pkg/config"
	"github.com/killallgit/finsight/pkg/render"
	"github.com/killallgit/finsight/pkg/stream"
	"github.com/spf13/cobra"
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a single question and print the answer",
	Long: `Ask a single question about the selected company's filing. The answer
streams to stdout unless --sync is given, in which case it is fetched whole.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Get()
		question := strings.Join(args, " ")
		sync, _ := cmd.Flags().GetBool("sync")
		showContexts, _ := cmd.Flags().GetBool("contexts")

		client := newClient(cfg)
		r := render.New(cmd.OutOrStdout(), 0)
		if sync {
			return askSync(cmd, client, r, cfg.Ticker, question, showContexts)
		}
		return askStream(cmd, client, r, cfg.Ticker, question, showContexts)
	},
}

func init() {
	askCmd.Flags().Bool("sync", false, "wait for the complete answer instead of streaming")
	askCmd.Flags().Bool("contexts", false, "print the source passages after the answer")

	rootCmd.AddCommand(askCmd)
}

func askStream(cmd *cobra.Command, transport stream.Transport, r *render.Renderer, ticker, question string, showContexts bool) error {
	out := cmd.OutOrStdout()
	store := chat.NewStore(ticker)
	orch := stream.NewOrchestrator(store, transport)

	unsubscribe := store.Subscribe(func(c chat.Change) {
		if c.Kind == chat.ChangeToken {
			fmt.Fprint(out, c.Text)
		}
	})
	defer unsubscribe()

	result, err := orch.Run(cmd.Context(), question)
	if err != nil {
		return err
	}
	fmt.Fprintln(out)

	switch result.Outcome {
	case stream.OutcomeErrored:
		return result.Err
	case stream.OutcomeCancelled:
		fmt.Fprintln(cmd.ErrOrStderr(), r.Notice("[cancelled]"))
		return nil
	}

	m, _ := store.Message(result.MessageID)
	printSources(out, r, m, showContexts)
	return nil
}

func askSync(cmd *cobra.Command, client *backend.Client, r *render.Renderer, ticker, question string, showContexts bool) error {
	req := chat.NewChatRequest(question, ticker, nil)
	resp, err := client.SyncChat(cmd.Context(), req)
	if err != nil {
		return err
	}

	m := chat.Message{Role: chat.RoleAssistant, Content: resp.Response, Contexts: resp.Contexts}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, r.Body(m, ""))
	printSources(out, r, m, showContexts)
	return nil
}

func printSources(out io.Writer, r *render.Renderer, m chat.Message, showContexts bool) {
	if sources := r.Citations(m, ""); sources != "" {
		fmt.Fprintln(out, sources)
	}
	if showContexts {
		fmt.Fprintln(out, r.Contexts(m.Contexts, ""))
	}
}
