package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/basket/go-steward/internal/config"
)

var (
	statusTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	statusKeyStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")).Width(12)
	statusOKStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	statusBadStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

func runStatusCommand(ctx context.Context, args []string) int {
	if len(args) != 0 {
		fmt.Fprintln(os.Stderr, "usage: steward status")
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load: %v\n", err)
		return 1
	}

	addr := strings.TrimSpace(cfg.BindAddr)
	if addr == "" {
		addr = "127.0.0.1:18990"
	}
	if host, port, err := net.SplitHostPort(addr); err == nil {
		addr = net.JoinHostPort(host, port)
	}
	statusURL := "http://" + addr + "/statusz"

	reqCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, statusURL, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "request: %v\n", err)
		return 1
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "status: %v\n", err)
		return 1
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if !isatty.IsTerminal(os.Stdout.Fd()) {
		_, _ = os.Stdout.Write(body)
		if len(body) == 0 || body[len(body)-1] != '\n' {
			fmt.Println()
		}
		if resp.StatusCode != http.StatusOK {
			return 1
		}
		return 0
	}

	var status map[string]any
	if err := json.Unmarshal(body, &status); err != nil {
		_, _ = os.Stdout.Write(body)
		fmt.Println()
		return 1
	}

	fmt.Println(statusTitleStyle.Render("steward"))
	renderLine("status", status, resp.StatusCode == http.StatusOK)
	for _, key := range []string{"version", "phase", "org", "last_cycle", "next_fire", "dry_run", "config"} {
		renderLine(key, status, true)
	}
	if resp.StatusCode != http.StatusOK {
		return 1
	}
	return 0
}

func renderLine(key string, status map[string]any, healthy bool) {
	v, ok := status[key]
	if !ok {
		return
	}
	val := fmt.Sprintf("%v", v)
	if val == "" {
		val = "-"
	}
	style := statusOKStyle
	if !healthy {
		style = statusBadStyle
	}
	fmt.Printf("%s %s\n", statusKeyStyle.Render(key), style.Render(val))
}
