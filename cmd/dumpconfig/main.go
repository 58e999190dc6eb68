// dumpconfig prints the fully resolved configuration, with secrets
// blanked, for debugging deployments.
package main

import (
	"encoding/json"
	"log"
	"os"

	"github.com/pianoemotion/crmgate/internal/config"
)

func main() {
	file := ""
	if len(os.Args) > 1 {
		file = os.Args[1]
	}

	cfg, err := config.Load(config.Options{ConfigFile: file})
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	cfg.Database.URL = redact(cfg.Database.URL)
	cfg.Redis.URL = redact(cfg.Redis.URL)
	cfg.Identity.Legacy.JWTSecret = redact(cfg.Identity.Legacy.JWTSecret)

	out, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		log.Fatalf("marshal config: %v", err)
	}
	os.Stdout.Write(append(out, '\n'))
}

func redact(value string) string {
	if value == "" {
		return ""
	}
	return "<redacted>"
}
