package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/Marketen/randao-duties/internal/adapters"
	"github.com/Marketen/randao-duties/internal/application/domain"
	"github.com/Marketen/randao-duties/internal/application/randao"
	"github.com/Marketen/randao-duties/internal/application/services"
	"github.com/Marketen/randao-duties/internal/application/shuffle"
	"github.com/Marketen/randao-duties/internal/config"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
)

var (
	epochFlag = &cli.Uint64Flag{
		Name:     "epoch",
		Usage:    "target epoch",
		Required: true,
	}
	mixFlag = &cli.StringFlag{
		Name:  "mix",
		Usage: "hex mix stored at the lookahead epoch of the target (zero when unset)",
	}
	validatorCountFlag = &cli.Uint64Flag{
		Name:  "validator-count",
		Usage: "registry size, overrides VALIDATOR_COUNT",
	}
	seedFlag = &cli.StringFlag{
		Name:  "seed",
		Usage: "hex seed (zero when unset)",
	}
	countFlag = &cli.Uint64Flag{
		Name:  "count",
		Usage: "population size",
		Value: 16384,
	}
	limitFlag = &cli.Uint64Flag{
		Name:  "limit",
		Usage: "number of leading permutation entries to print",
		Value: 16,
	}
	algorithmFlag = &cli.StringFlag{
		Name:  "algorithm",
		Usage: "rotating-buffer or hash-stream",
	}
	thresholdFlag = &cli.IntFlag{
		Name:  "threshold",
		Usage: "partial signatures needed to recover the group signature",
		Value: 3,
	}
	membersFlag = &cli.IntFlag{
		Name:  "members",
		Usage: "number of key shares",
		Value: 5,
	}
)

var dutiesCommand = &cli.Command{
	Name:   "duties",
	Usage:  "compute the duty roster of one epoch without a beacon node",
	Flags:  []cli.Flag{epochFlag, mixFlag, validatorCountFlag},
	Action: computeDuties,
}

var shuffleCommand = &cli.Command{
	Name:   "shuffle",
	Usage:  "print the leading entries of a permutation",
	Flags:  []cli.Flag{seedFlag, countFlag, limitFlag, algorithmFlag},
	Action: printShuffle,
}

var thresholdCommand = &cli.Command{
	Name:   "threshold",
	Usage:  "deal a throwaway threshold group, recover a group signature for an epoch and derive seeds from it",
	Flags:  []cli.Flag{epochFlag, thresholdFlag, membersFlag},
	Action: thresholdRound,
}

func offlineScheduler(cfg *config.Config, acc *randao.Accumulator, deps services.Dependencies) (*services.DutiesScheduler, error) {
	permutations, err := shuffle.NewCache(shuffle.Shuffler{Algorithm: cfg.ShuffleAlgorithm}, shuffle.DefaultCacheSize)
	if err != nil {
		return nil, err
	}
	deps.Accumulator = acc
	deps.Permutations = permutations
	return services.NewDutiesScheduler(deps, services.Params{
		ValidatorIndices:  cfg.ValidatorIndices,
		ValidatorCount:    cfg.ValidatorCount,
		CommitteesPerSlot: cfg.CommitteesPerSlot,
		SlotsPerEpoch:     cfg.SlotsPerEpoch,
		SyncCommitteeSize: cfg.SyncCommitteeSize,
		RemainderPolicy:   cfg.RemainderPolicy,
	})
}

func computeDuties(c *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if c.IsSet(validatorCountFlag.Name) {
		cfg.ValidatorCount = c.Uint64(validatorCountFlag.Name)
	}
	target := domain.Epoch(c.Uint64(epochFlag.Name))

	acc := randao.NewAccumulator(cfg.ThresholdPolicy)
	if s := c.String(mixFlag.Name); s != "" {
		mix, err := config.ParseRoot(s)
		if err != nil {
			return errors.Wrap(err, "invalid --mix")
		}
		acc.Restore([]domain.MixEntry{{Epoch: randao.MixEpoch(target), Mix: mix}}, nil)
	}

	scheduler, err := offlineScheduler(cfg, acc, services.Dependencies{})
	if err != nil {
		return err
	}
	duties, err := scheduler.ComputeEpochDuties(target)
	if err != nil {
		return err
	}
	writeDuties(c.App.Writer, duties, cfg.ValidatorIndices)
	return nil
}

func writeDuties(w io.Writer, duties *domain.EpochDuties, tracked []domain.ValidatorIndex) {
	fmt.Fprintf(w, "epoch %d\n", duties.Epoch)
	fmt.Fprintf(w, "epoch proposer %d\n", duties.EpochProposer)
	for _, p := range duties.Proposers {
		fmt.Fprintf(w, "slot %d proposer %d\n", p.Slot, p.ValidatorIndex)
	}
	fmt.Fprintf(w, "sync committee: %d members, first %s\n", len(duties.SyncCommittee), formatIndices(duties.SyncCommittee, 8))
	fmt.Fprintf(w, "attestation committees: %d (%d per slot), unassigned %d\n",
		len(duties.Committees), duties.CommitteesAtSlot, duties.Unassigned)
	bySlot := duties.BySlot()
	for _, p := range duties.Proposers {
		fmt.Fprintf(w, "slot %d committees %d\n", p.Slot, len(bySlot[p.Slot]))
	}

	if len(tracked) == 0 {
		return
	}
	proposals, attestations := services.DutiesFor(duties, tracked)
	for _, p := range proposals {
		fmt.Fprintf(w, "validator %d proposes at slot %d\n", p.ValidatorIndex, p.Slot)
	}
	for _, a := range attestations {
		fmt.Fprintf(w, "validator %d attests at slot %d committee %d position %d/%d\n",
			a.ValidatorIndex, a.Slot, a.CommitteeIndex, a.ValidatorCommitteeIdx, a.CommitteeLength)
	}
}

func formatIndices(indices []domain.ValidatorIndex, limit int) string {
	if len(indices) < limit {
		limit = len(indices)
	}
	parts := make([]string, 0, limit)
	for _, v := range indices[:limit] {
		parts = append(parts, fmt.Sprint(uint64(v)))
	}
	return strings.Join(parts, " ")
}

func printShuffle(c *cli.Context) error {
	algorithm, err := shuffle.ParseAlgorithm(c.String(algorithmFlag.Name))
	if err != nil {
		return err
	}
	var seed domain.Seed
	if s := c.String(seedFlag.Name); s != "" {
		if seed, err = config.ParseRoot(s); err != nil {
			return errors.Wrap(err, "invalid --seed")
		}
	}
	n := c.Uint64(countFlag.Name)
	limit := c.Uint64(limitFlag.Name)
	if limit > n {
		limit = n
	}

	p := shuffle.Shuffler{Algorithm: algorithm}.Permute(n, seed)
	fmt.Fprintln(c.App.Writer, formatIndices(p, int(limit)))
	return nil
}

func thresholdRound(c *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	epoch := domain.Epoch(c.Uint64(epochFlag.Name))
	t, members := c.Int(thresholdFlag.Name), c.Int(membersFlag.Name)

	// Offline there is no chain to sign for, so the zero signing context is used.
	var sctx domain.SigningContext
	groupPK, shares, err := adapters.NewThresholdGroup(t, members)
	if err != nil {
		return err
	}
	partials := make([]adapters.PartialSignature, 0, t)
	for i := range shares[:t] {
		p, err := shares[i].SignEpoch(epoch, sctx)
		if err != nil {
			return err
		}
		partials = append(partials, p)
	}
	sig, err := adapters.CombinePartials(t, partials)
	if err != nil {
		return err
	}

	verifier, err := adapters.NewThresholdVerifier(groupPK, sctx)
	if err != nil {
		return err
	}
	acc := randao.NewAccumulator(cfg.ThresholdPolicy)
	scheduler, err := offlineScheduler(cfg, acc, services.Dependencies{Threshold: verifier})
	if err != nil {
		return err
	}
	if err := scheduler.IngestThresholdSignature(epoch, sig); err != nil {
		return err
	}

	target := epoch + domain.MinSeedLookahead + 1
	w := c.App.Writer
	fmt.Fprintf(w, "group public key %s\n", hexutil.Encode(groupPK[:]))
	fmt.Fprintf(w, "group signature %s\n", hexutil.Encode(sig[:]))
	for _, d := range []domain.DomainType{domain.DomainBeaconProposer, domain.DomainBeaconAttester, domain.DomainRandao} {
		seed := acc.DeriveSeed(target, d)
		fmt.Fprintf(w, "epoch %d %s seed %s\n", target, d, hexutil.Encode(seed[:]))
	}
	return nil
}
