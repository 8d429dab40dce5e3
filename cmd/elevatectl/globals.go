package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nerrad567/elevate/internal/agent"
	"github.com/nerrad567/elevate/internal/infrastructure/config"
)

const tokenFileName = "token"

// globals holds the persistent flags and what is derived from them.
type globals struct {
	configPath string
	server     string
	credential string

	cfg     *config.Config
	devices *agent.DeviceStore
}

// load reads the agent config and locates the device ID file.
func (g *globals) load() error {
	if g.cfg != nil {
		return nil
	}
	cfg, err := config.LoadAgent(g.configPath)
	if err != nil {
		return err
	}
	if g.server != "" {
		cfg.Agent.ServerURL = g.server
	}
	devices, err := agent.NewDeviceStore(cfg.Agent.DeviceIDPath)
	if err != nil {
		return fmt.Errorf("locating device id: %w", err)
	}
	g.cfg, g.devices = cfg, devices
	return nil
}

// tokenPath keeps the access token next to the device ID.
func (g *globals) tokenPath() string {
	return filepath.Join(filepath.Dir(g.devices.Path()), tokenFileName)
}

func (g *globals) saveToken(token string) error {
	path := g.tokenPath()
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(token+"\n"), 0600); err != nil {
		return fmt.Errorf("saving token: %w", err)
	}
	return nil
}

// client returns an HTTP client authorised with the saved token.
func (g *globals) client() (*agent.HTTPClient, error) {
	if err := g.load(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(g.tokenPath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, errors.New("not signed in: run elevatectl login")
		}
		return nil, fmt.Errorf("reading token: %w", err)
	}
	c := agent.NewHTTPClient(g.cfg.Agent.ServerURL, nil)
	c.SetToken(strings.TrimSpace(string(data)))
	return c, nil
}

// deviceID returns this device's identifier, creating it on first use.
func (g *globals) deviceID() (string, error) {
	if err := g.load(); err != nil {
		return "", err
	}
	return g.devices.Resolve()
}

// credentialFor returns the --credential flag or prompts for it.
func (g *globals) credentialFor(cmd *cobra.Command, reason string) (string, error) {
	if g.credential != "" {
		return g.credential, nil
	}
	return promptLine(cmd.InOrStdin(), cmd.ErrOrStderr(), "Elevation credential ("+reason+"): ")
}

// promptLine writes prompt and reads one line from in.
func promptLine(in io.Reader, out io.Writer, prompt string) (string, error) {
	fmt.Fprint(out, prompt)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("reading input: %w", err)
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return "", errNoInput
	}
	return line, nil
}

// stdinPrompter asks on the terminal when another device wants the session.
type stdinPrompter struct {
	lines <-chan string
	out   io.Writer
}

func newStdinPrompter(in io.Reader, out io.Writer) *stdinPrompter {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- strings.TrimSpace(scanner.Text())
		}
	}()
	return &stdinPrompter{lines: lines, out: out}
}

// PromptCredential implements agent.CredentialPrompter. An empty line
// declines.
func (p *stdinPrompter) PromptCredential(ctx context.Context, reason string) (string, error) {
	line, err := p.readLine(ctx, reason+"\nEnter elevation credential to approve (empty line declines): ")
	if errors.Is(err, errNoInput) {
		return "", agent.ErrPromptDeclined
	}
	return line, err
}

var errNoInput = errors.New("no input given")

func (p *stdinPrompter) readLine(ctx context.Context, prompt string) (string, error) {
	fmt.Fprint(p.out, prompt)
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case line, ok := <-p.lines:
		if !ok || line == "" {
			return "", errNoInput
		}
		return line, nil
	}
}
