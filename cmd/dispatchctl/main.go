package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/tjfontaine/polyglot-dispatch/internal/config"
	"github.com/tjfontaine/polyglot-dispatch/internal/domain"
	"github.com/tjfontaine/polyglot-dispatch/internal/storage/sqlite"
)

const usage = `Usage:
  dispatchctl capability set <provider|-> <model> <max_output_tokens>
  dispatchctl instruction set <text|@file>
  dispatchctl instruction show

Writes to the SQLite database named by storage.sqlite.path in config.yaml.
Use "-" as provider for a model-only capability row.`

func main() {
	if len(os.Args) < 3 {
		fmt.Println(usage)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fail("load config: %v", err)
	}
	store, err := sqlite.New(cfg.Storage.SQLite.Path)
	if err != nil {
		fail("open store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	switch os.Args[1] + " " + os.Args[2] {
	case "capability set":
		if len(os.Args) != 6 {
			fail("capability set needs provider, model and max_output_tokens")
		}
		provider := os.Args[3]
		if provider == "-" {
			provider = ""
		}
		maxTokens, err := strconv.Atoi(os.Args[5])
		if err != nil || maxTokens <= 0 {
			fail("max_output_tokens must be a positive integer")
		}
		err = store.UpsertCapability(ctx, domain.ModelCapability{
			Provider:        domain.ProviderIdentity(provider),
			ModelID:         os.Args[4],
			MaxOutputTokens: maxTokens,
		})
		if err != nil {
			fail("%v", err)
		}
		fmt.Printf("Stored %s/%s = %d\n", displayProvider(provider), os.Args[4], maxTokens)

	case "instruction set":
		if len(os.Args) != 4 {
			fail("instruction set needs the instruction text")
		}
		text := os.Args[3]
		if path, ok := strings.CutPrefix(text, "@"); ok {
			b, err := os.ReadFile(path)
			if err != nil {
				fail("read %s: %v", path, err)
			}
			text = string(b)
		}
		id, err := store.SaveInstruction(ctx, strings.TrimSpace(text))
		if err != nil {
			fail("%v", err)
		}
		fmt.Printf("Saved instruction %s\n", id)

	case "instruction show":
		latest, err := store.GetLatest(ctx)
		if err != nil {
			fail("%v", err)
		}
		if latest == "" {
			fmt.Println("(no stored instruction; system_instruction from config.yaml is used)")
			return
		}
		fmt.Println(latest)

	default:
		fmt.Println(usage)
		os.Exit(1)
	}
}

func displayProvider(p string) string {
	if p == "" {
		return "*"
	}
	return p
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "dispatchctl: "+format+"\n", args...)
	os.Exit(1)
}
