package benchmark

import (
	"context"
	"fmt"

	"github.com/cloudflare/p11bench/log"
	"github.com/cloudflare/p11bench/token"
	"github.com/miekg/pkcs11"
	"golang.org/x/sync/errgroup"
)

// NoThread is the thread index of a run that is not replicated. Labels are
// then used as given.
const NoThread = -1

// ThreadedLabel returns the label used by worker idx for label. An empty
// label stays empty.
func ThreadedLabel(label string, idx int) string {
	if idx == NoThread || label == "" {
		return label
	}
	return fmt.Sprintf("%s-%d", label, idx)
}

// RunThreads runs one clone of v per session of pool, each worker with its
// own thread index, and returns the results in thread order. Cancelling ctx
// stops workers that have not started yet; their results carry no samples and
// a CKR_FUNCTION_CANCELED outcome.
func RunThreads(ctx context.Context, pool *token.Pool, v Variant, req Request) []Result {
	n := pool.Size()
	results := make([]Result, n)
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		i := i
		clone := v.Clone()
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i] = Result{Name: clone.Name(), Label: ThreadedLabel(clone.Label(), i), ThreadIndex: i, Outcome: Transport(pkcs11.CKR_FUNCTION_CANCELED)}
				return err
			}
			s := pool.Get()
			defer pool.Put(s)

			wreq := req
			wreq.Session = s
			wreq.ThreadIndex = i
			results[i] = Execute(clone, wreq)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Warningf("%s: not all workers ran: %v", v.Name(), err)
	}
	return results
}
