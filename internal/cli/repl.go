package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/zhouzirui/nur-al-ilm/backend/internal/model/chat"
	chatservice "github.com/zhouzirui/nur-al-ilm/backend/internal/service/chat"
	"github.com/zhouzirui/nur-al-ilm/backend/internal/service/speech"
)

var errQuit = errors.New("quit")

const replHelp = `commands:
  /lang <n> <Language>  show message n in Language (Original restores)
  /audio <n> <file>     save message n as a WAV file
  /new                  start a fresh conversation after a warning
  /clear                erase the history
  /status               show the session status
  /quit                 leave`

// repl 处理一行输入；与终端交互解耦以便测试。
type repl struct {
	sess *chatservice.Session
	out  io.Writer
	// stream prints answer chunks as they arrive.
	stream bool
}

func (r *repl) handle(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if !strings.HasPrefix(line, "/") {
		return r.submit(ctx, line)
	}

	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return errQuit
	case "/help":
		fmt.Fprintln(r.out, replHelp)
	case "/status":
		printStatus(r.out, r.sess.Snapshot(ctx))
	case "/new":
		if !r.sess.Resume(ctx) {
			fmt.Fprintln(r.out, "nothing to resume")
			return nil
		}
		printHistory(r.out, r.sess.Messages().Messages())
	case "/clear":
		r.sess.ClearHistory(ctx)
		printHistory(r.out, r.sess.Messages().Messages())
	case "/lang":
		if len(fields) != 3 {
			return errors.New("usage: /lang <n> <Language>")
		}
		msg, err := r.message(fields[1])
		if err != nil {
			return err
		}
		updated, err := r.sess.Messages().SetDisplayLanguage(ctx, msg.ID, fields[2])
		if err != nil {
			return err
		}
		n, _ := strconv.Atoi(fields[1])
		printMessage(r.out, n, updated)
	case "/audio":
		if len(fields) != 3 {
			return errors.New("usage: /audio <n> <file>")
		}
		msg, err := r.message(fields[1])
		if err != nil {
			return err
		}
		audio, err := r.sess.Messages().RequestAudio(ctx, msg.ID, "")
		if err != nil {
			return err
		}
		pcm, err := speech.DecodeBase64(audio)
		if err != nil {
			return err
		}
		if err := os.WriteFile(fields[2], speech.EncodeWAV(pcm), 0o600); err != nil {
			return fmt.Errorf("write %s: %w", fields[2], err)
		}
		fmt.Fprintf(r.out, "saved %s\n", fields[2])
	default:
		return fmt.Errorf("unknown command %s (try /help)", fields[0])
	}
	return nil
}

func (r *repl) submit(ctx context.Context, text string) error {
	var opts []chatservice.SubmitOption
	streamed := false
	if r.stream {
		opts = append(opts, chatservice.WithDeltas(func(chunk string) {
			if !streamed {
				fmt.Fprint(r.out, "nur: ")
				streamed = true
			}
			fmt.Fprint(r.out, chunk)
		}))
	}

	result, err := r.sess.Submit(ctx, text, opts...)
	if err != nil {
		return err
	}
	if streamed {
		fmt.Fprintln(r.out)
	}
	if !result.Accepted {
		printStatus(r.out, r.sess.Snapshot(ctx))
		return nil
	}

	offset := len(r.sess.Messages().Messages()) - len(result.Appended)
	for i, msg := range result.Appended {
		if msg.Role == chat.RoleUser {
			continue
		}
		if streamed && msg.Role == chat.RoleBot {
			for _, src := range msg.Sources {
				fmt.Fprintf(r.out, "      source: %s\n", src.Title)
			}
			continue
		}
		printMessage(r.out, offset+i+1, msg)
	}
	if result.Status == chat.StatusSuspended {
		printStatus(r.out, r.sess.Snapshot(ctx))
	}
	return nil
}

// message 按 1 起始的序号查找消息。
func (r *repl) message(arg string) (chat.Message, error) {
	n, err := strconv.Atoi(arg)
	if err != nil {
		return chat.Message{}, fmt.Errorf("invalid message number %q", arg)
	}
	msgs := r.sess.Messages().Messages()
	if n < 1 || n > len(msgs) {
		return chat.Message{}, fmt.Errorf("no message %d", n)
	}
	return msgs[n-1], nil
}
