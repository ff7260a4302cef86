package cmd

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/docpilot/internal/messages"
)

// ImportCSVCommand returns the command that loads community messages from a
// CSV export.
func ImportCSVCommand() *cli.Command {
	return &cli.Command{
		Name:  "import-csv",
		Usage: "Import author,channel,content,timestamp rows as pending messages",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "tenant", Aliases: []string{"t"}, Usage: "Tenant the messages belong to", Required: true},
			&cli.StringFlag{Name: "stream", Aliases: []string{"s"}, Usage: "Stream (source channel export) id", Required: true},
			&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Usage: "CSV file to read", Required: true},
		},
		Action: runImportCSV,
	}
}

func runImportCSV(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	f, err := os.Open(c.String("file"))
	if err != nil {
		return fmt.Errorf("failed to open csv: %w", err)
	}
	defer f.Close()

	msgs, err := messages.ReadCSV(f, c.String("tenant"), c.String("stream"))
	if err != nil {
		return fmt.Errorf("failed to parse %s: %w", c.String("file"), err)
	}

	a, err := newApp(c.Context, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	inserted, err := a.messages.Insert(c.Context, msgs...)
	if err != nil {
		return fmt.Errorf("failed to store messages: %w", err)
	}
	log.Info().
		Str("tenant", c.String("tenant")).
		Str("stream", c.String("stream")).
		Int("rows", len(msgs)).
		Int("inserted", inserted).
		Msg("Imported messages")
	fmt.Printf("Imported %d messages (%d already present)\n", inserted, len(msgs)-inserted)
	return nil
}
