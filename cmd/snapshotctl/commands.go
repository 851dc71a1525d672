package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"assetsnap/contexts/asset-payouts/snapshot-service/domain/entities"
	domainerrors "assetsnap/contexts/asset-payouts/snapshot-service/domain/errors"
	"assetsnap/contexts/asset-payouts/snapshot-service/domain/merkle"
	"assetsnap/contexts/asset-payouts/snapshot-service/ports"
	"assetsnap/internal/app/bootstrap"
)

type appLoader func(ctx context.Context) (*bootstrap.CLIApp, error)

func newRootCmd(load appLoader) *cobra.Command {
	root := &cobra.Command{
		Use:           "snapshotctl",
		Short:         "Inspect and submit asset snapshots",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newSubmitCmd(load),
		newGetCmd(load),
		newListCmd(load),
		newProofCmd(load),
		newVerifyCmd(load),
	)
	return root
}

func withApp(cmd *cobra.Command, load appLoader, run func(app *bootstrap.CLIApp) error) error {
	app, err := load(cmd.Context())
	if err != nil {
		return err
	}
	defer func() { _ = app.Close() }()
	return run(app)
}

func newSubmitCmd(load appLoader) *cobra.Command {
	var (
		projectID string
		name      string
		chainID   int64
		asset     string
		block     uint64
		ignored   []string
	)
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Record a pending snapshot for the worker",
		RunE: func(cmd *cobra.Command, _ []string) error {
			assetAddress, err := parseAddress("asset", asset)
			if err != nil {
				return err
			}
			ignoredAddresses := make([]common.Address, 0, len(ignored))
			for _, value := range ignored {
				address, err := parseAddress("ignore", value)
				if err != nil {
					return err
				}
				ignoredAddresses = append(ignoredAddresses, address)
			}
			return withApp(cmd, load, func(app *bootstrap.CLIApp) error {
				id, err := app.Module.Submit.Execute(cmd.Context(), ports.SnapshotParams{
					ProjectID:      projectID,
					Name:           name,
					ChainID:        chainID,
					AssetContract:  assetAddress,
					BlockNumber:    block,
					IgnoredHolders: ignoredAddresses,
				})
				if err != nil {
					return err
				}
				return printJSON(cmd, map[string]string{"snapshot_id": id, "status": string(entities.SnapshotStatusPending)})
			})
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "project id")
	cmd.Flags().StringVar(&name, "name", "", "snapshot name")
	cmd.Flags().Int64Var(&chainID, "chain-id", 0, "chain id of the asset")
	cmd.Flags().StringVar(&asset, "asset", "", "asset contract address")
	cmd.Flags().Uint64Var(&block, "block", 0, "snapshot block number")
	cmd.Flags().StringSliceVar(&ignored, "ignore", nil, "holder addresses to leave out (repeatable)")
	return cmd
}

func newGetCmd(load appLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "get <snapshot-id>",
		Short: "Show one snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, load, func(app *bootstrap.CLIApp) error {
				snapshot, err := app.Module.Snapshots.GetSnapshot(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd, snapshotView(snapshot))
			})
		},
	}
}

func newListCmd(load appLoader) *cobra.Command {
	var (
		projectID string
		statuses  []string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a project's snapshots, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter := make([]entities.SnapshotStatus, 0, len(statuses))
			for _, value := range statuses {
				filter = append(filter, entities.SnapshotStatus(strings.ToUpper(strings.TrimSpace(value))))
			}
			return withApp(cmd, load, func(app *bootstrap.CLIApp) error {
				snapshots, err := app.Module.Snapshots.ListSnapshots(cmd.Context(), projectID, filter)
				if err != nil {
					return err
				}
				views := make([]snapshotJSON, 0, len(snapshots))
				for _, snapshot := range snapshots {
					views = append(views, snapshotView(snapshot))
				}
				return printJSON(cmd, views)
			})
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "project id")
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "PENDING, SUCCESS or FAILED (repeatable)")
	return cmd
}

func newProofCmd(load appLoader) *cobra.Command {
	var (
		payoutID       string
		investor       string
		payoutContract string
		chainID        int64
		asset          string
		root           string
		totalAsset     string
		totalReward    string
	)
	cmd := &cobra.Command{
		Use:   "proof",
		Short: "Print an investor's proof path and claimable amount for a payout",
		Long: `Resolves the payout from the payout manager contract when one is configured.
Without it, pass --chain-id, --asset, --root, --total-asset and --total-reward.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, err := parseAmount("payout-id", payoutID)
			if err != nil {
				return err
			}
			investorAddress, err := parseAddress("investor", investor)
			if err != nil {
				return err
			}
			return withApp(cmd, load, func(app *bootstrap.CLIApp) error {
				var payout entities.Payout
				if app.Payouts != nil && strings.TrimSpace(root) == "" {
					contract := common.Address{}
					if strings.TrimSpace(payoutContract) != "" {
						if contract, err = parseAddress("payout-contract", payoutContract); err != nil {
							return err
						}
					}
					resolved, found, err := app.Payouts.GetPayout(cmd.Context(), app.ChainID, contract, id)
					if err != nil {
						return err
					}
					if !found {
						return domainerrors.ErrPayoutNotFound
					}
					payout = resolved
				} else {
					manual, err := manualPayout(id, chainID, asset, root, totalAsset, totalReward)
					if err != nil {
						return err
					}
					payout = manual
				}

				result, entitled, err := app.Module.Claims.PathAndClaimable(cmd.Context(), payout, investorAddress)
				if err != nil {
					return err
				}
				if !entitled {
					return printJSON(cmd, map[string]any{
						"payout_id": payout.PayoutID.String(),
						"investor":  investorAddress.Hex(),
						"entitled":  false,
					})
				}
				out := map[string]any{
					"payout_id":         result.PayoutID.String(),
					"investor":          result.Investor.Hex(),
					"entitled":          true,
					"balance":           result.HolderBalance.String(),
					"entitlement":       result.Entitlement.String(),
					"claim_record_read": result.ClaimRecordRead,
					"proof":             result.ProofPath,
				}
				if result.ClaimRecordRead {
					out["amount_already_claimed"] = result.AmountAlreadyClaimed.String()
					out["claimable"] = result.Claimable.String()
				}
				return printJSON(cmd, out)
			})
		},
	}
	cmd.Flags().StringVar(&payoutID, "payout-id", "", "payout id")
	cmd.Flags().StringVar(&investor, "investor", "", "investor address")
	cmd.Flags().StringVar(&payoutContract, "payout-contract", "", "payout manager address override")
	cmd.Flags().Int64Var(&chainID, "chain-id", 0, "chain id (manual payout)")
	cmd.Flags().StringVar(&asset, "asset", "", "asset contract (manual payout)")
	cmd.Flags().StringVar(&root, "root", "", "snapshot merkle root (manual payout)")
	cmd.Flags().StringVar(&totalAsset, "total-asset", "", "total asset amount (manual payout)")
	cmd.Flags().StringVar(&totalReward, "total-reward", "", "total reward amount (manual payout)")
	return cmd
}

func newVerifyCmd(load appLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <snapshot-id>",
		Short: "Rebuild a snapshot's tree from storage and check it against the stored root",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, load, func(app *bootstrap.CLIApp) error {
				tree, err := app.Module.Trees.FetchSnapshotTree(cmd.Context(), args[0])
				if err != nil {
					var integrityErr *domainerrors.TreeIntegrityError
					if errors.As(err, &integrityErr) {
						_ = printJSON(cmd, map[string]any{
							"snapshot_id": args[0],
							"verified":    false,
							"stored_root": integrityErr.Stored,
							"computed":    integrityErr.Computed,
						})
					}
					return err
				}
				return printJSON(cmd, map[string]any{
					"snapshot_id":   args[0],
					"verified":      true,
					"merkle_root":   tree.RootHash().String(),
					"hash_fn":       string(tree.HashFunction().Name()),
					"leaves":        tree.Size(),
					"total_balance": tree.TotalBalance().String(),
				})
			})
		},
	}
}

type snapshotJSON struct {
	ID               string   `json:"id"`
	ProjectID        string   `json:"project_id"`
	Name             string   `json:"name"`
	ChainID          int64    `json:"chain_id"`
	AssetContract    string   `json:"asset_contract"`
	BlockNumber      uint64   `json:"block_number"`
	IgnoredHolders   []string `json:"ignored_holders,omitempty"`
	Status           string   `json:"status"`
	TreeRootID       string   `json:"tree_root_id,omitempty"`
	ContentHash      string   `json:"content_hash,omitempty"`
	TotalAssetAmount string   `json:"total_asset_amount,omitempty"`
	FailureCause     string   `json:"failure_cause,omitempty"`
	FailureMessage   string   `json:"failure_message,omitempty"`
	CreatedAt        string   `json:"created_at"`
	UpdatedAt        string   `json:"updated_at"`
}

func snapshotView(snapshot entities.AssetSnapshot) snapshotJSON {
	view := snapshotJSON{
		ID:            snapshot.ID,
		ProjectID:     snapshot.ProjectID,
		Name:          snapshot.Name,
		ChainID:       snapshot.ChainID,
		AssetContract: snapshot.AssetContract.Hex(),
		BlockNumber:   snapshot.BlockNumber,
		Status:        string(snapshot.Status),
		CreatedAt:     snapshot.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:     snapshot.UpdatedAt.UTC().Format(time.RFC3339),
	}
	for _, address := range snapshot.IgnoredHolders {
		view.IgnoredHolders = append(view.IgnoredHolders, address.Hex())
	}
	if snapshot.Success != nil {
		view.TreeRootID = snapshot.Success.TreeRootID
		view.ContentHash = snapshot.Success.ContentHash
		if snapshot.Success.TotalAssetAmount != nil {
			view.TotalAssetAmount = snapshot.Success.TotalAssetAmount.String()
		}
	}
	if snapshot.Failure != nil {
		view.FailureCause = string(snapshot.Failure.Cause)
		view.FailureMessage = snapshot.Failure.Message
	}
	return view
}

func manualPayout(id *big.Int, chainID int64, asset, root, totalAsset, totalReward string) (entities.Payout, error) {
	assetAddress, err := parseAddress("asset", asset)
	if err != nil {
		return entities.Payout{}, err
	}
	rootHash, err := merkle.ParseHash(root)
	if err != nil {
		return entities.Payout{}, fmt.Errorf("--root: %w", err)
	}
	assetAmount, err := parseAmount("total-asset", totalAsset)
	if err != nil {
		return entities.Payout{}, err
	}
	rewardAmount, err := parseAmount("total-reward", totalReward)
	if err != nil {
		return entities.Payout{}, err
	}
	return entities.Payout{
		PayoutID:           id,
		ChainID:            chainID,
		Asset:              assetAddress,
		TotalAssetAmount:   assetAmount,
		SnapshotMerkleRoot: rootHash,
		TotalRewardAmount:  rewardAmount,
	}, nil
}

func parseAddress(flag, value string) (common.Address, error) {
	trimmed := strings.TrimSpace(value)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("--%s: %q is not a hex address", flag, value)
	}
	return common.HexToAddress(trimmed), nil
}

func parseAmount(flag, value string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(value), 10)
	if !ok || amount.Sign() < 0 {
		return nil, fmt.Errorf("--%s: %q is not a non-negative integer", flag, value)
	}
	return amount, nil
}

func printJSON(cmd *cobra.Command, value any) error {
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}
