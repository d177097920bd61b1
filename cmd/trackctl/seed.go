package main

import (
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/syssam/tracker/session"
	"github.com/syssam/tracker/update"
)

var (
	customers int
	perOrder  int
	churn     bool
	metrics   bool
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Insert a demo graph and optionally rename and prune it",
	Long: `Insert customers with their orders in one save. Orders reference customers
whose keys are generated by the database, so they are sent in a later batch.

With --churn every customer is renamed and its first order removed in a
second save.`,
	Args: cobra.NoArgs,
	RunE: runSeed,
}

func init() {
	flags := seedCmd.Flags()
	flags.IntVarP(&customers, "customers", "n", 3, "number of customers")
	flags.IntVar(&perOrder, "orders", 2, "orders per customer")
	flags.BoolVar(&churn, "churn", false, "rename customers and delete their first order")
	flags.BoolVar(&metrics, "metrics", false, "print the prometheus counters")
	rootCmd.AddCommand(seedCmd)
}

func runSeed(cmd *cobra.Command, _ []string) error {
	if customers < 0 || perOrder < 0 {
		return fmt.Errorf("--customers and --orders must not be negative")
	}
	drv, err := open()
	if err != nil {
		return err
	}
	defer drv.Close()
	m, err := shopModel()
	if err != nil {
		return err
	}
	opts, err := sessionOptions()
	if err != nil {
		return err
	}
	stats := &update.BatchStats{}
	s, err := session.New(m, store(drv), append(opts, session.WithStats(stats))...)
	if err != nil {
		return err
	}
	defer s.Close()

	var (
		ctx    = cmd.Context()
		out    = cmd.OutOrStdout()
		people = make([]*Customer, 0, customers)
		first  = make([]*Order, 0, customers)
	)
	for i := range customers {
		c := &Customer{Name: fmt.Sprintf("customer-%d", i+1)}
		ce, err := s.Add(c)
		if err != nil {
			return err
		}
		people = append(people, c)
		for j := range perOrder {
			o := &Order{Note: fmt.Sprintf("order-%d-%d", i+1, j+1)}
			oe, err := s.Add(o)
			if err != nil {
				return err
			}
			if err := ce.AddToCollection("Orders", oe); err != nil {
				return err
			}
			if j == 0 {
				first = append(first, o)
			}
		}
	}
	rows, err := s.SaveChanges(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "inserted %d rows\n", rows)

	if churn {
		for _, c := range people {
			c.Name += " (renamed)"
		}
		for _, o := range first {
			if _, err := s.Remove(o); err != nil {
				return err
			}
		}
		rows, err := s.SaveChanges(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "updated and deleted %d rows\n", rows)
	}
	fmt.Fprintln(out, stats.Stats())
	if metrics {
		return printMetrics(out, stats)
	}
	return nil
}

func printMetrics(w io.Writer, stats *update.BatchStats) error {
	reg := prometheus.NewRegistry()
	if err := reg.Register(update.NewCollector(stats, "trackctl")); err != nil {
		return err
	}
	families, err := reg.Gather()
	if err != nil {
		return err
	}
	for _, f := range families {
		for _, m := range f.GetMetric() {
			fmt.Fprintf(w, "%s %g\n", f.GetName(), m.GetCounter().GetValue())
		}
	}
	return nil
}
