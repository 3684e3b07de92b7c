// ABOUTME: Interactive config file writer for herald init
// ABOUTME: Generates random secrets for token sealing and OAuth state signing

package main

import (
	"bufio"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

func runInit(in io.Reader) error {
	reader := bufio.NewReader(in)

	fmt.Println("herald configuration setup")
	fmt.Println("==========================")
	fmt.Println()

	outputFile := prompt(reader, "Config file path", getConfigPath())
	if _, err := os.Stat(outputFile); err == nil {
		if !yes(prompt(reader, "File exists. Overwrite?", "no")) {
			fmt.Println("Aborted.")
			return nil
		}
	}

	content, err := buildInitConfig(reader, getDataPath())
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(outputFile), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	// The file holds credentials.
	if err := os.WriteFile(outputFile, []byte(content), 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Println("\nTo check it and start the bot:")
	fmt.Println("  herald check")
	fmt.Println("  herald serve")
	return nil
}

// buildInitConfig asks the setup questions and renders the YAML config.
func buildInitConfig(reader *bufio.Reader, dataPath string) (string, error) {
	fmt.Println("\n--- Matrix ---")
	homeserver := prompt(reader, "Homeserver URL", "https://matrix.org")
	botUser := prompt(reader, "Bot user ID", "@herald:matrix.org")
	accessToken := prompt(reader, "Bot access token (leave empty to use a password)", "")
	var password string
	if accessToken == "" {
		password = prompt(reader, "Bot password", "")
	}
	encryption := yes(prompt(reader, "Enable end-to-end encryption?", "yes"))

	fmt.Println("\n--- Bot ---")
	owner := prompt(reader, "Your Matrix user ID (the only user the bot serves)", "")

	fmt.Println("\n--- Generator ---")
	geminiKey := prompt(reader, "Gemini API key", "${GEMINI_API_KEY}")

	fmt.Println("\n--- Publishing ---")
	loginFlow := prompt(reader, "Login flow (oauth/browser/static)", "oauth")
	var clientID, clientSecret, redirectURL, staticToken string
	switch loginFlow {
	case "oauth":
		clientID = prompt(reader, "LinkedIn client ID", "")
		clientSecret = prompt(reader, "LinkedIn client secret", "${LINKEDIN_CLIENT_SECRET}")
		redirectURL = prompt(reader, "OAuth redirect URL", "http://localhost:8080/oauth/callback")
	case "static":
		staticToken = prompt(reader, "LinkedIn access token", "${LINKEDIN_ACCESS_TOKEN}")
	}
	publishBackend := "linkedin"
	if loginFlow == "browser" {
		publishBackend = "browser"
	}

	fmt.Println("\n--- Storage ---")
	backend := prompt(reader, "Storage backend (sqlite/bolt/redis/memory)", "sqlite")
	var storagePath, redisAddr string
	switch backend {
	case "sqlite":
		storagePath = prompt(reader, "SQLite database path", filepath.Join(dataPath, "herald.db"))
	case "bolt":
		storagePath = prompt(reader, "Bolt database path", filepath.Join(dataPath, "herald.bolt"))
	case "redis":
		redisAddr = prompt(reader, "Redis address", "localhost:6379")
	}

	fmt.Println("\n--- Server ---")
	httpAddr := prompt(reader, "HTTP address", "localhost:8080")

	fmt.Println("\n--- Logging ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	storageSecret, err := randomSecret()
	if err != nil {
		return "", err
	}
	stateSecret, err := randomSecret()
	if err != nil {
		return "", err
	}
	pickleKey, err := randomSecret()
	if err != nil {
		return "", err
	}

	var cfg strings.Builder
	cfg.WriteString("# herald configuration\n")
	cfg.WriteString("# Generated by herald init\n\n")

	cfg.WriteString("matrix:\n")
	fmt.Fprintf(&cfg, "  homeserver: %q\n", homeserver)
	fmt.Fprintf(&cfg, "  user_id: %q\n", botUser)
	if accessToken != "" {
		fmt.Fprintf(&cfg, "  access_token: %q\n", accessToken)
	} else {
		fmt.Fprintf(&cfg, "  password: %q\n", password)
	}
	fmt.Fprintf(&cfg, "  encryption: %t\n", encryption)
	if encryption {
		fmt.Fprintf(&cfg, "  pickle_key: %q\n", pickleKey)
	}
	cfg.WriteString("  typing_indicator: true\n\n")

	cfg.WriteString("bot:\n")
	fmt.Fprintf(&cfg, "  authorized_user: %q\n\n", owner)

	cfg.WriteString("generator:\n")
	cfg.WriteString("  backend: \"gemini\"\n")
	fmt.Fprintf(&cfg, "  api_key: %q\n\n", geminiKey)

	cfg.WriteString("publish:\n")
	fmt.Fprintf(&cfg, "  backend: %q\n", publishBackend)
	cfg.WriteString("  max_attempts: 3\n")
	cfg.WriteString("  base_delay: \"2s\"\n\n")

	cfg.WriteString("login:\n")
	fmt.Fprintf(&cfg, "  flow: %q\n", loginFlow)
	cfg.WriteString("  timeout: \"5m\"\n")
	switch loginFlow {
	case "oauth":
		cfg.WriteString("  oauth:\n")
		fmt.Fprintf(&cfg, "    client_id: %q\n", clientID)
		fmt.Fprintf(&cfg, "    client_secret: %q\n", clientSecret)
		fmt.Fprintf(&cfg, "    redirect_url: %q\n", redirectURL)
		fmt.Fprintf(&cfg, "    state_secret: %q\n", stateSecret)
	case "static":
		fmt.Fprintf(&cfg, "  access_token: %q\n", staticToken)
	}
	cfg.WriteString("\n")

	cfg.WriteString("storage:\n")
	fmt.Fprintf(&cfg, "  backend: %q\n", backend)
	if storagePath != "" {
		fmt.Fprintf(&cfg, "  path: %q\n", storagePath)
	}
	if redisAddr != "" {
		cfg.WriteString("  redis:\n")
		fmt.Fprintf(&cfg, "    addr: %q\n", redisAddr)
	}
	if backend != "memory" {
		fmt.Fprintf(&cfg, "  secret: %q\n", storageSecret)
	}
	cfg.WriteString("\n")

	cfg.WriteString("server:\n")
	fmt.Fprintf(&cfg, "  http_addr: %q\n\n", httpAddr)

	cfg.WriteString("logging:\n")
	fmt.Fprintf(&cfg, "  level: %q\n", logLevel)
	fmt.Fprintf(&cfg, "  format: %q\n\n", logFormat)

	cfg.WriteString("metrics:\n")
	cfg.WriteString("  enabled: false\n")
	cfg.WriteString("  path: \"/metrics\"\n")

	return cfg.String(), nil
}

func randomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating secret: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

func yes(answer string) bool {
	a := strings.ToLower(answer)
	return a == "yes" || a == "y"
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
