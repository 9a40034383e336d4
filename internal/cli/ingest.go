package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func NewIngestCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest <knowledge-set> <file>...",
		Short: "Ingest local files into a knowledge set",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			application, err := loadApp(ctx)
			if err != nil {
				return err
			}
			defer application.Close()

			owner, err := ownerFlag(cmd, application.Config)
			if err != nil {
				return err
			}
			setID := args[0]
			if create, _ := cmd.Flags().GetBool("create"); create {
				if _, err := application.Service.CreateKnowledgeSet(ctx, owner, setID); err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			var failed int
			for _, path := range args[1:] {
				data, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("read %s: %w", path, err)
				}
				res, err := application.Service.Ingest(ctx, owner, setID, filepath.Base(path), data)
				if err != nil {
					failed++
					log.Error().Err(err).Str("path", path).Msg("ingest failed")
					continue
				}
				fmt.Fprintf(out, "%s\t%s\tv%d\t%d chunks\t%s\n", res.FileID, res.Outcome, res.Version, res.ChunksCreated, humanize.Bytes(uint64(len(data))))
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d files failed", failed, len(args)-1)
			}
			return nil
		},
	}
	cmd.Flags().String("owner", "", "caller identity (default $MCP_OWNER_ID)")
	cmd.Flags().Bool("create", false, "create the knowledge set if it does not exist")
	return cmd
}
