package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/zhouzirui/nur-al-ilm/backend/internal/model/chat"
)

func roleLabel(r chat.Role) string {
	switch r {
	case chat.RoleUser:
		return "you"
	case chat.RoleBot:
		return "nur"
	case chat.RoleError:
		return "!"
	default:
		return strings.ToLower(string(r))
	}
}

// printMessage 以 "[n] role: text" 形式输出消息，n 从 1 开始。
func printMessage(w io.Writer, n int, msg chat.Message) {
	header := fmt.Sprintf("[%d] %s", n, roleLabel(msg.Role))
	if lang := msg.SelectedLanguage(); lang != chat.LanguageOriginal {
		header += " (" + lang + ")"
	}
	fmt.Fprintf(w, "%s: %s\n", header, msg.DisplayContent())

	for _, src := range msg.Sources {
		if src.URI != "" {
			fmt.Fprintf(w, "      source: %s <%s>\n", src.Title, src.URI)
		} else {
			fmt.Fprintf(w, "      source: %s\n", src.Title)
		}
	}
}

func printHistory(w io.Writer, msgs []chat.Message) {
	for i, msg := range msgs {
		printMessage(w, i+1, msg)
	}
}

func printStatus(w io.Writer, snap chat.Snapshot) {
	switch snap.Status {
	case chat.StatusSuspended:
		fmt.Fprintln(w, chat.SuspendedTitle)
		fmt.Fprintln(w, chat.SuspendedBody)
		fmt.Fprintf(w, "Lifted in: %s (at %s)\n", snap.Countdown,
			snap.SuspendedUntil().Local().Format(time.DateTime))
	case chat.StatusWarned:
		fmt.Fprintln(w, "status: WARNED (type /new to start a fresh conversation)")
	default:
		fmt.Fprintf(w, "status: %s\n", snap.Status)
	}
}
