package cli

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/gortc/iceagentd/ice"
	"github.com/gortc/iceagentd/internal/iceio"
)

func getKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key",
		Short: "generate a short-term ICE ufrag/password pair",
		Run: func(cmd *cobra.Command, args []string) {
			ufrag, pwd, err := ice.GenerateCredentials(iceio.Rng{})
			if err != nil {
				log.Fatal(err)
			}
			fmt.Printf("ufrag=%s pwd=%s\n", ufrag, pwd)
		},
	}
	return cmd
}
