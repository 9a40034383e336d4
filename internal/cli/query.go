package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

const previewRunes = 160

func NewQueryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query <knowledge-set> <text>...",
		Short: "Query a knowledge set for the most similar chunks",
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
			topK, _ := cmd.Flags().GetInt("top-k")
			matches, err := application.Service.Query(ctx, owner, args[0], strings.Join(args[1:], " "), topK)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(matches)
			}
			for i, m := range matches {
				fmt.Fprintf(out, "%d. %.4f  %s\n   %s\n", i+1, m.Score, m.ChunkID, preview(m.Metadata.Text))
			}
			return nil
		},
	}
	cmd.Flags().String("owner", "", "caller identity (default $MCP_OWNER_ID)")
	cmd.Flags().Int("top-k", 0, "number of results (default $QUERY_TOP_K)")
	cmd.Flags().Bool("json", false, "print results as JSON")
	return cmd
}

func preview(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	r := []rune(text)
	if len(r) <= previewRunes {
		return text
	}
	return string(r[:previewRunes]) + "…"
}
