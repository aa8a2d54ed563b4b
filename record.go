package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/d1nch8g/theranotes/recorder"
	"github.com/d1nch8g/theranotes/stt"
)

const recorderHelp = `Commands:
  r  start recording
  s  stop recording
  p  play / pause the recording
  d  download the recording
  u  submit the recording for transcription
  x  reset
  h  show transcript history
  q  quit
`

// runRecorder reads single-letter commands from in until q, EOF or ctx ends
func runRecorder(ctx context.Context, a *app, in io.Reader, out io.Writer) error {
	fmt.Fprint(out, recorderHelp)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- strings.TrimSpace(scanner.Text())
		}
	}()

	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(out)
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if line == "q" {
				return nil
			}
			if err := handleCommand(ctx, a, line, out); err != nil {
				fmt.Fprintf(out, "error: %s\n", describeError(err))
			}
		}
	}
}

func handleCommand(ctx context.Context, a *app, line string, out io.Writer) error {
	e := a.engine
	session := e.Session()
	a.logger.Debug("command received", zap.String("command", line))

	switch line {
	case "r":
		if err := e.Record(ctx); err != nil {
			return err
		}
		fmt.Fprintln(out, "recording... (s to stop)")
	case "s":
		artifact, err := e.Finish(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "\nstopped: %s, %d bytes, %s\n",
			formatElapsed(artifact.Duration), artifact.Size(), artifact.MediaType)
	case "p":
		if err := session.TogglePlayback(); err != nil {
			return err
		}
		if session.IsPlaying() {
			fmt.Fprintln(out, "playing")
		} else {
			fmt.Fprintln(out, "paused")
		}
	case "d":
		path, err := session.Download()
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "saved %s\n", path)
	case "u":
		fmt.Fprintln(out, "submitting...")
		entry, err := e.Submit(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "transcript:\n%s\n", entry.Transcript)
	case "x":
		if err := session.Reset(); err != nil {
			return err
		}
		fmt.Fprintln(out, "reset")
	case "h":
		fmt.Fprint(out, e.FormatHistory())
	case "":
	default:
		fmt.Fprint(out, recorderHelp)
	}
	return nil
}

func (a *app) showElapsed(elapsed time.Duration) {
	fmt.Fprintf(a.out, "\r● %s", formatElapsed(elapsed))
}

// formatElapsed renders mm:ss.cc
func formatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	cs := int64(d / (10 * time.Millisecond))
	return fmt.Sprintf("%02d:%02d.%02d", cs/6000, (cs/100)%60, cs%100)
}

// describeError turns known failures into messages for the prompt
func describeError(err error) string {
	var devErr *recorder.DeviceAccessError
	var subErr *stt.SubmissionError
	switch {
	case errors.As(err, &devErr):
		return "Could not access microphone. Please check permissions."
	case errors.As(err, &subErr):
		return subErr.Error()
	case errors.Is(err, recorder.ErrNoArtifact):
		return "Nothing recorded yet."
	default:
		return err.Error()
	}
}
