package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func init() {
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show whether the session may send messages",
		Run:   runStatus,
	}

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Print the conversation history",
		Run:   runHistory,
	}
	historyCmd.Flags().Bool("json", false, "Print the persisted JSON records")

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Erase the conversation history",
		Run:   runClear,
	}

	RootCmd.AddCommand(statusCmd, historyCmd, clearCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	sess, closeFn, err := openSession(cmd.Context())
	if err != nil {
		exitErr("open session", err)
	}
	defer closeFn()

	printStatus(os.Stdout, sess.Snapshot(cmd.Context()))
}

func runHistory(cmd *cobra.Command, args []string) {
	sess, closeFn, err := openSession(cmd.Context())
	if err != nil {
		exitErr("open session", err)
	}
	defer closeFn()

	msgs := sess.Messages().Messages()
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		b, _ := json.MarshalIndent(msgs, "", "  ")
		fmt.Println(string(b))
		return
	}
	printHistory(os.Stdout, msgs)
}

func runClear(cmd *cobra.Command, args []string) {
	sess, closeFn, err := openSession(cmd.Context())
	if err != nil {
		exitErr("open session", err)
	}
	defer closeFn()

	sess.ClearHistory(cmd.Context())
	fmt.Println("history cleared")
}
