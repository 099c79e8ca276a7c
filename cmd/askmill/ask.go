package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/askmill/askmill/internal/config"
	"github.com/askmill/askmill/internal/core"
	"github.com/askmill/askmill/internal/service/rag"
	"github.com/askmill/askmill/internal/service/ui"
)

var (
	askTopK         int
	askModel        string
	askConversation string
	askNoStream     bool
)

var askCmd = &cobra.Command{
	Use:           "ask [question]",
	Short:         "Ask a single question and print the answer",
	Args:          cobra.MinimumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: false,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		var flushLog func()
		ctx, flushLog = setupLogger(ctx)
		defer flushLog()

		if err := initEnv(ctx, config.NewAppConfig(ctx).RuntimePath); err != nil {
			return err
		}
		appCfg := config.NewAppConfig(ctx)

		eng := newEngine(ctx, appCfg)
		defer func() {
			for _, c := range eng.cleanups {
				_ = c.Shutdown(ctx)
			}
		}()

		req := rag.AskRequest{
			Text:           strings.Join(args, " "),
			TopK:           askTopK,
			ConversationID: askConversation,
			ModelOverride:  askModel,
		}

		if askNoStream {
			result, err := eng.orchestrator.Ask(ctx, req)
			if err != nil {
				return err
			}
			fmt.Println(ui.AnswerStyle.Render(result.Answer))
			printFooter(result)
			return nil
		}

		stream, err := eng.orchestrator.AskStream(ctx, req)
		if err != nil {
			return err
		}
		defer stream.Close()

		for {
			chunk, err := stream.Recv()
			if err == io.EOF {
				break
			}
			if err != nil {
				return err
			}
			fmt.Print(chunk)
		}
		fmt.Println()

		result, err := stream.Result()
		if err != nil {
			return err
		}
		printFooter(result)
		return nil
	},
}

func printFooter(result core.RAGResult) {
	valid := 0
	for _, c := range result.Citations {
		if c.Valid {
			valid++
		}
	}
	footer := fmt.Sprintf("confidence %.2f | citations %d/%d | model %s",
		result.Confidence, valid, len(result.Citations), result.ModelUsed)
	if result.CacheHit {
		footer += " | cached"
	}
	fmt.Println(ui.MetaStyle.Render(footer))
}

func init() {
	askCmd.Flags().IntVarP(&askTopK, "top-k", "k", 0, "how many context fragments to retrieve")
	askCmd.Flags().StringVarP(&askModel, "model", "m", "", "model override for this request")
	askCmd.Flags().StringVarP(&askConversation, "conversation", "c", "", "conversation id for follow-up questions")
	askCmd.Flags().BoolVar(&askNoStream, "no-stream", false, "wait for the full answer instead of streaming")
	rootCmd.AddCommand(askCmd)
}
