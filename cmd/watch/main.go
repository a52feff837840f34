// Command watch tails live submissions for a teacher.
//
//	watch -url ws://localhost:8080/ws -token $CLASSROOM_TOKEN
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mind-engage/mindengage-classroom/internal/notify"
)

var errHelp = errors.New("help provided")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdout); err != nil && !errors.Is(err, errHelp) {
		log.Fatal(err)
	}
}

type options struct {
	url       string
	token     string
	teacherID string
	delay     time.Duration
}

func parseArgs(args []string) (options, error) {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	var o options
	fs.StringVar(&o.url, "url", "ws://localhost:8080/ws", "notifier WebSocket URL")
	fs.StringVar(&o.token, "token", os.Getenv("CLASSROOM_TOKEN"), "session token (default $CLASSROOM_TOKEN)")
	fs.StringVar(&o.teacherID, "teacher", "", "teacher id; read from the token when empty")
	fs.DurationVar(&o.delay, "reconnect", time.Second, "delay between reconnect attempts")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return o, errHelp
		}
		return o, err
	}
	if o.teacherID == "" && o.token != "" {
		o.teacherID = subjectOf(o.token)
	}
	if o.teacherID == "" {
		fs.Usage()
		return o, errHelp
	}
	return o, nil
}

// subjectOf reads sub without verifying; the server does the verifying.
func subjectOf(token string) string {
	var claims struct {
		Sub string `json:"sub"`
		jwt.RegisteredClaims
	}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return ""
	}
	return claims.Sub
}

func run(ctx context.Context, args []string, out io.Writer) error {
	o, err := parseArgs(args)
	if err != nil {
		return err
	}
	hdr := http.Header{}
	if o.token != "" {
		hdr.Set("Authorization", "Bearer "+o.token)
	}
	c := notify.NewClient(o.url, notify.ClientOptions{ReconnectDelay: o.delay, Header: hdr})
	defer c.Close()

	c.OnState(func(up bool) {
		if up {
			fmt.Fprintln(out, "connected")
		} else {
			fmt.Fprintf(out, "disconnected; retrying in %s\n", o.delay)
		}
	})
	c.On("error", func(data json.RawMessage) { fmt.Fprintf(out, "server: %s\n", data) })
	c.On(notify.EventAssignmentSubmitted, func(data json.RawMessage) {
		var p notify.SubmittedPayload
		if err := json.Unmarshal(data, &p); err != nil {
			log.Printf("watch: bad event: %v", err)
			return
		}
		fmt.Fprintln(out, formatSubmitted(p))
	})

	if err := c.Join("teacher", o.teacherID); err != nil {
		return err
	}
	if err := c.Connect(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}

func formatSubmitted(p notify.SubmittedPayload) string {
	s := fmt.Sprintf("%s  %-24s student=%s  %.1f%%", p.SubmittedAt.Local().Format("15:04:05"), p.PaperTitle, p.StudentID, p.Percentage)
	if p.Degraded {
		s += "  (needs review)"
	}
	return s
}
