package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/OFFIS-RIT/reqtrace/pkg/logger"
)

var (
	ErrLayoutNotFound = errors.New("graphviz dot command not found")
	ErrLayoutTimeout  = errors.New("graphviz rendering timed out")
	ErrLayoutFailed   = errors.New("graphviz rendering failed")
	ErrUnknownFormat  = errors.New("unsupported output format")
)

const (
	DefaultBinary  = "dot"
	DefaultTimeout = 30 * time.Second
)

// Format is a Graphviz output format.
type Format string

const (
	FormatDOT Format = "dot"
	FormatSVG Format = "svg"
	FormatPNG Format = "png"
	FormatPDF Format = "pdf"
)

func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatSVG, nil
	case FormatDOT, FormatSVG, FormatPNG, FormatPDF:
		return f, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

// ContentType is the MIME type of rendered output.
func (f Format) ContentType() string {
	switch f {
	case FormatSVG:
		return "image/svg+xml"
	case FormatPNG:
		return "image/png"
	case FormatPDF:
		return "application/pdf"
	}
	return "text/vnd.graphviz; charset=utf-8"
}

// Extension is the file extension of rendered output, without the dot.
func (f Format) Extension() string {
	if f == "" {
		return string(FormatSVG)
	}
	return string(f)
}

// Layout invokes the Graphviz binary. The zero value uses "dot" from PATH and
// a 30 second timeout.
type Layout struct {
	Binary  string
	Timeout time.Duration
}

// Render lays out a DOT document. FormatDOT returns the input unchanged.
func (l Layout) Render(ctx context.Context, dot []byte, format Format) ([]byte, error) {
	if format == "" {
		format = FormatSVG
	}
	if format == FormatDOT {
		return dot, nil
	}

	bin := l.Binary
	if bin == "" {
		bin = DefaultBinary
	}
	timeout := l.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	path, err := exec.LookPath(bin)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrLayoutNotFound, bin, err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, path, "-T"+string(format))
	cmd.Stdin = bytes.NewReader(dot)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second

	start := time.Now()
	err = cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("%w after %s", ErrLayoutTimeout, timeout)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w: %s", ErrLayoutFailed, err, strings.TrimSpace(stderr.String()))
	}

	logger.Debug("[Render] Layout finished", "format", format, "bytes", stdout.Len(), "duration", time.Since(start))
	return stdout.Bytes(), nil
}
