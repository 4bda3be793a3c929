package main

import (
	"bufio"
	"context"
	"fmt"
	"math/bits"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/cake-heaven/internal/domain/coupon"
	"github.com/xenking/cake-heaven/internal/storage/postgres"
)

const (
	progressEvery = 10_000_000
	minCodeLen    = 8
	maxCodeLen    = 10
	upsertChunk   = 1000
)

// codeRule is the discount granted for a well-known code.
type codeRule struct {
	percent     int64
	description string
}

var codeRules = map[string]codeRule{
	"BIRTHDAY": {percent: 25, description: "Birthday treat: 25% off"},
	"SWEETTEN": {percent: 10, description: "Sweet ten: 10% off"},
	"FIFTYOFF": {percent: 50, description: "50% off entire order"},
	"WEDDINGS": {percent: 15, description: "Wedding cakes: 15% off"},
	"CHOCOLAT": {percent: 20, description: "Chocolate lovers: 20% off"},
	"FESTIVAL": {percent: 12, description: "Festival special: 12% off"},
}

type importOptions struct {
	dir           string
	files         int
	pattern       string
	expectedCodes uint
	falsePositive float64
	percent       int64
	validFor      time.Duration
	dryRun        bool
}

func (r *root) couponsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "coupons",
		Short: "Coupon maintenance",
	}

	opts := importOptions{}
	imp := &cobra.Command{
		Use:   "import",
		Short: "Import codes that appear in at least two gzipped code lists",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return r.importCoupons(cmd.Context(), opts)
		},
	}
	f := imp.Flags()
	f.StringVar(&opts.dir, "dir", "data", "Directory with the code lists")
	f.IntVar(&opts.files, "files", 3, "Number of code lists")
	f.StringVar(&opts.pattern, "pattern", "couponbase%d.gz", "File name pattern, %d is the 1-based file number")
	f.UintVar(&opts.expectedCodes, "expected-codes", 120_000_000, "Expected codes per file, sizes the bloom filters")
	f.Float64Var(&opts.falsePositive, "false-positive-rate", 0.001, "Bloom filter false positive rate")
	f.Int64Var(&opts.percent, "percent", 10, "Discount for codes without a known rule")
	f.DurationVar(&opts.validFor, "valid-for", 365*24*time.Hour, "Validity window of imported coupons")
	f.BoolVar(&opts.dryRun, "dry-run", false, "Only report the codes found")
	cmd.AddCommand(imp)
	return cmd
}

func (r *root) importCoupons(ctx context.Context, opts importOptions) error {
	if opts.files < 2 || opts.files > bits.UintSize {
		return errors.Errorf("files must be between 2 and %d", bits.UintSize)
	}
	files := make([]string, opts.files)
	for i := range files {
		files[i] = filepath.Join(opts.dir, fmt.Sprintf(opts.pattern, i+1))
		if _, err := os.Stat(files[i]); err != nil {
			return errors.Wrapf(err, "check file %s", files[i])
		}
	}

	codes, err := findSharedCodes(ctx, r.lg, files, opts.expectedCodes, opts.falsePositive)
	if err != nil {
		return err
	}
	r.lg.Info("Shared codes found", zap.Int("count", len(codes)))
	if len(codes) == 0 || opts.dryRun {
		return nil
	}

	list, err := importedCoupons(codes, opts.percent, time.Now().UTC(), opts.validFor)
	if err != nil {
		return err
	}

	pool, err := r.connect(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()
	repo := postgres.NewCouponRepository(pool)

	for chunk := range slices.Chunk(list, upsertChunk) {
		if err := repo.Upsert(ctx, chunk); err != nil {
			return errors.Wrap(err, "write coupons")
		}
	}
	r.lg.Info("Coupons imported", zap.Int("count", len(list)))
	return nil
}

// findSharedCodes returns, sorted, the codes present in two or more files.
// Pass one builds a bloom filter per file. Pass two rescans each file and
// marks a code with the file's bit when another file's filter may hold it.
// A false positive only sets the bit of the file that really contains the
// code, so the two-bit threshold stays exact.
func findSharedCodes(ctx context.Context, lg *zap.Logger, files []string, capacity uint, fpr float64) ([]string, error) {
	lg.Info("Pass 1: building bloom filters", zap.Int("files", len(files)))
	filters := make([]*bloom.BloomFilter, len(files))
	g, gctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			filter := bloom.NewWithEstimates(capacity, fpr)
			n, err := streamCodes(gctx, path, func(code string) { filter.AddString(code) }, progress(lg, 1, i))
			if err != nil {
				return errors.Wrapf(err, "build filter for file %d", i+1)
			}
			lg.Info("Pass 1 complete", zap.Int("file", i+1), zap.Uint64("codes", n))
			filters[i] = filter
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	lg.Info("Pass 2: finding candidates")
	results := make([]map[string]uint, len(files))
	g, gctx = errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			candidates := make(map[string]uint)
			bit := uint(1) << uint(i)
			n, err := streamCodes(gctx, path, func(code string) {
				for j, f := range filters {
					if j != i && f.TestString(code) {
						candidates[code] |= bit
						return
					}
				}
			}, progress(lg, 2, i))
			if err != nil {
				return errors.Wrapf(err, "scan file %d", i+1)
			}
			lg.Info("Pass 2 complete", zap.Int("file", i+1), zap.Uint64("codes", n), zap.Int("candidates", len(candidates)))
			results[i] = candidates
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make(map[string]uint)
	for _, r := range results {
		for code, mask := range r {
			merged[code] |= mask
		}
	}
	var shared []string
	for code, mask := range merged {
		if bits.OnesCount(mask) >= 2 {
			shared = append(shared, code)
		}
	}
	slices.Sort(shared)
	return shared, nil
}

func progress(lg *zap.Logger, pass, file int) func(uint64) {
	return func(n uint64) {
		lg.Info("Progress", zap.Int("pass", pass), zap.Int("file", file+1), zap.Uint64("codes", n))
	}
}

// streamCodes calls fn for every line of the gzipped file that has a valid
// code length and returns how many it passed.
func streamCodes(ctx context.Context, path string, fn func(code string), onProgress func(uint64)) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return 0, errors.Wrapf(err, "gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	var n uint64
	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		code := strings.TrimSpace(scanner.Text())
		if len(code) < minCodeLen || len(code) > maxCodeLen {
			continue
		}
		fn(code)
		n++
		if n%progressEvery == 0 {
			onProgress(n)
		}
	}
	if err := scanner.Err(); err != nil {
		return n, errors.Wrapf(err, "scan %s", path)
	}
	return n, nil
}

// importedCoupons turns codes into store-wide percentage coupons valid from
// now for validFor.
func importedCoupons(codes []string, defaultPercent int64, now time.Time, validFor time.Duration) ([]coupon.Coupon, error) {
	list := make([]coupon.Coupon, 0, len(codes))
	for _, code := range codes {
		rule, ok := codeRules[strings.ToUpper(code)]
		if !ok {
			rule = codeRule{percent: defaultPercent, description: fmt.Sprintf("Promo code: %d%% off", defaultPercent)}
		}
		c, err := coupon.Build(coupon.Input{
			Code:          code,
			Description:   rule.description,
			DiscountType:  coupon.DiscountPercentage,
			DiscountValue: decimal.NewFromInt(rule.percent),
			StartDate:     now,
			EndDate:       now.Add(validFor),
			ApplicableTo:  coupon.ScopeAll,
		}, now)
		if err != nil {
			return nil, errors.Wrapf(err, "coupon %s", code)
		}
		list = append(list, *c)
	}
	return list, nil
}
