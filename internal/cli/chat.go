package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/zhouzirui/nur-al-ilm/backend/internal/model/chat"
)

var slashCommands = []string{"/lang ", "/audio ", "/new", "/clear", "/status", "/help", "/quit"}

func init() {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive conversation",
		Run:   runChat,
	}
	cmd.Flags().Bool("no-stream", false, "Print answers only when complete")

	RootCmd.AddCommand(cmd)
}

func runChat(cmd *cobra.Command, args []string) {
	ctx := cmd.Context()
	sess, closeFn, err := openSession(ctx)
	if err != nil {
		exitErr("open session", err)
	}
	defer closeFn()

	noStream, _ := cmd.Flags().GetBool("no-stream")
	r := &repl{sess: sess, out: os.Stdout, stream: !noStream}

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)
	line.SetCompleter(func(input string) []string {
		var out []string
		for _, c := range slashCommands {
			if strings.HasPrefix(c, input) {
				out = append(out, c)
			}
		}
		return out
	})

	historyPath := filepath.Join(getDataDir(), "repl_history")
	if f, err := os.Open(historyPath); err == nil {
		_, _ = line.ReadHistory(f)
		f.Close()
	}
	defer func() {
		if f, err := os.Create(historyPath); err == nil {
			_, _ = line.WriteHistory(f)
			f.Close()
		}
	}()

	printHistory(os.Stdout, sess.Messages().Messages())
	if snap := sess.Snapshot(ctx); snap.Status != chat.StatusActive {
		printStatus(os.Stdout, snap)
	}
	fmt.Println("(type /help for commands)")

	for {
		input, err := line.Prompt("> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				return
			}
			exitErr("read input", err)
		}
		if strings.TrimSpace(input) != "" {
			line.AppendHistory(input)
		}

		if err := r.handle(ctx, input); err != nil {
			if errors.Is(err, errQuit) {
				return
			}
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
	}
}
