package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/PabloGalante/chatlog/internal/client"
	"github.com/PabloGalante/chatlog/internal/domain"
)

// surface bundles the API client and a loaded view model for one command run.
type surface struct {
	api  *client.Client
	vm   *client.ViewModel
	out  io.Writer
	json bool
}

func openSurface(cmd *cobra.Command) (*surface, error) {
	server, _ := cmd.Flags().GetString("server")
	token, _ := cmd.Flags().GetString("token")
	asJSON, _ := cmd.Flags().GetBool("json")
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("a token is required (--token or CHATLOG_TOKEN)")
	}

	api, err := client.New(server, token)
	if err != nil {
		return nil, err
	}
	vm := client.NewViewModel(api)
	if err := vm.Load(cmd.Context()); err != nil {
		return nil, err
	}
	return &surface{api: api, vm: vm, out: cmd.OutOrStdout(), json: asJSON}, nil
}

func (s *surface) printSession(sess *domain.Session) {
	if s.json {
		enc := json.NewEncoder(s.out)
		enc.SetIndent("", "  ")
		_ = enc.Encode(sess)
		return
	}
	fmt.Fprintf(s.out, "%s  %s  [%s]\n", sess.ID, sess.Title, sess.Status)
	for _, t := range sess.Turns {
		fmt.Fprintf(s.out, "  %-9s %s\n", t.Role+":", t.Text)
	}
}

// reportAskError explains a failed ask; a stored question is called out with its session.
func (s *surface) reportAskError(err error) error {
	if partial := domain.SessionOf(err); partial != nil {
		if _, pending := partial.PendingQuestion(); pending {
			fmt.Fprintf(s.out, "answer pending for session %s; run `chatlog retry %s`\n", partial.ID, partial.ID)
		}
	}
	return err
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List your sessions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSurface(cmd)
			if err != nil {
				return err
			}
			snap := s.vm.Snapshot()
			if s.json {
				enc := json.NewEncoder(s.out)
				enc.SetIndent("", "  ")
				return enc.Encode(snap.Sessions)
			}
			for _, sess := range snap.Sessions {
				fmt.Fprintf(s.out, "%s  %-30s  %-15s  %d turns  %s\n",
					sess.ID, sess.Title, sess.Status, len(sess.Turns), sess.CreatedAt.Local().Format("2006-01-02 15:04"))
			}
			if !snap.CanCreateNewSession {
				fmt.Fprintln(s.out, "(the newest session is still empty; ask in it before creating another)")
			}
			return nil
		},
	}
}

func newNewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "new",
		Short: "Create an empty session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSurface(cmd)
			if err != nil {
				return err
			}
			sess, err := s.vm.NewSession(cmd.Context())
			if err != nil {
				return err
			}
			s.printSession(sess)
			return nil
		},
	}
}

func newAskCmd() *cobra.Command {
	var sessionID string
	cmd := &cobra.Command{
		Use:   "ask <question...>",
		Short: "Ask a question, in a new session unless --session is given",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSurface(cmd)
			if err != nil {
				return err
			}
			question := strings.Join(args, " ")

			var res *client.AskResult
			if sessionID != "" {
				res, err = s.vm.AskOn(cmd.Context(), domain.SessionID(sessionID), question)
			} else {
				res, err = s.vm.Ask(cmd.Context(), question)
			}
			if err != nil {
				return s.reportAskError(err)
			}
			s.printSession(res.Session)
			return nil
		},
	}
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "session id to ask in")
	return cmd
}

func newRetryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry <session-id>",
		Short: "Re-ask the pending question of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSurface(cmd)
			if err != nil {
				return err
			}
			if err := s.vm.Select(domain.SessionID(args[0])); err != nil {
				return err
			}
			res, err := s.vm.RetryPending(cmd.Context())
			if err != nil {
				return s.reportAskError(err)
			}
			s.printSession(res.Session)
			return nil
		},
	}
}

func newRenameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rename <session-id> <title...>",
		Short: "Rename a session",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSurface(cmd)
			if err != nil {
				return err
			}
			sess, err := s.vm.Rename(cmd.Context(), domain.SessionID(args[0]), strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			s.printSession(sess)
			return nil
		},
	}
}

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSurface(cmd)
			if err != nil {
				return err
			}
			if err := s.vm.Delete(cmd.Context(), domain.SessionID(args[0])); err != nil {
				return err
			}
			fmt.Fprintln(s.out, "deleted", args[0])
			return nil
		},
	}
}

func newShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <session-id>",
		Short: "Print a session with its turns",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSurface(cmd)
			if err != nil {
				return err
			}
			sess, err := s.api.GetSession(cmd.Context(), domain.SessionID(args[0]))
			if err != nil {
				return err
			}
			s.printSession(sess)
			return nil
		},
	}
}

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Follow changes made to your sessions by any surface",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			s, err := openSurface(cmd)
			if err != nil {
				return err
			}
			fmt.Fprintf(s.out, "watching %d sessions, ctrl-c to stop\n", len(s.vm.Snapshot().Sessions))
			return s.api.Watch(ctx, func(ev domain.SessionEvent) {
				s.vm.ApplyEvent(ev)
				title := ""
				if ev.Session != nil {
					title = ev.Session.Title
				}
				fmt.Fprintf(s.out, "%s  %-16s %s  %s  (%d cached)\n",
					ev.At.Local().Format("15:04:05"), ev.Type, ev.SessionID, title, len(s.vm.Snapshot().Sessions))
			})
		},
	}
}
