// Package cli wires cobra subcommands around an already-constructed
// consensus coordinator, exposing the consensus core's own inspection
// surface: status (tip, finalized and BFT heights) and printchain.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bludnic/lisk-sdk/internal/consensus"
)

// NewCLI builds the consensusd root command around coord.
func NewCLI(coord *consensus.Coordinator) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "consensusd",
		Short: "consensusd runs the BFT proof-of-stake consensus core.",
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Print the local chain's tip and finalized height.",
		RunE: func(cmd *cobra.Command, args []string) error {
			tip, err := coord.Chain().GetLastBlock()
			if err != nil {
				return err
			}
			finalized, err := coord.FinalizedHeight()
			if err != nil {
				return err
			}
			fmt.Printf("tip height:       %d\n", tip.Header.Height)
			fmt.Printf("finalized height: %d\n", finalized)
			fmt.Printf("max prevoted:     %d\n", coord.Heights().MaxHeightPrevoted())
			fmt.Printf("max precommitted: %d\n", coord.Heights().MaxHeightPrecommitted())
			fmt.Printf("max certified:    %d\n", coord.Heights().MaxHeightCertified())
			return nil
		},
	}

	printChainCmd := &cobra.Command{
		Use:   "printchain",
		Short: "Print every block from genesis to the current tip.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ch := coord.Chain()
			for h := uint32(0); int64(h) <= ch.Height(); h++ {
				b, err := ch.GetBlockByHeight(h)
				if err != nil {
					return err
				}
				id := b.Header.ID()
				fmt.Printf("height=%d id=%x generator=%x txs=%d\n", b.Header.Height, id, b.Header.GeneratorAddress, len(b.Transactions))
			}
			return nil
		},
	}

	rootCmd.AddCommand(statusCmd, printChainCmd)
	return rootCmd
}
