package commands

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/spf13/pflag"
	"k8s.io/apimachinery/pkg/labels"

	"github.com/DrSkyle/vmplace/pkg/config"
	"github.com/DrSkyle/vmplace/pkg/dataset"
	"github.com/DrSkyle/vmplace/pkg/engine/placement"
	vmaws "github.com/DrSkyle/vmplace/pkg/providers/aws"
	"github.com/DrSkyle/vmplace/pkg/providers/k8s"
	"github.com/DrSkyle/vmplace/pkg/resource"
)

// Input sources.
const (
	sourceCSV = "csv"
	sourceK8s = "k8s"
)

var (
	source         string
	serverCapacity map[string]string
	maxDemand      map[string]string
)

func addInputFlags(pf *pflag.FlagSet) {
	pf.StringVar(&source, "source", sourceCSV, "Input source: csv or k8s")

	pf.String("workloads", "", "Workload table (';'-separated, header names resources)")
	pf.String("comma", "", "Workload table field separator")
	pf.String("fleet", "", "Fleet file (.yaml or .hcl)")
	pf.StringToStringVar(&serverCapacity, "server-capacity", nil, "Homogeneous server capacity, e.g. vcpu=64,memory=512,storage=2Ki")
	pf.Int("servers", 0, "Number of homogeneous servers (default one per workload)")
	pf.StringToStringVar(&maxDemand, "max-demand", nil, "Drop workloads above a per-resource demand, e.g. storage=2048")
	pf.Int("sample", 0, "Keep a random sample of this many workloads")
	pf.Uint64("seed", 0, "Sampling seed")

	pf.String("aws-fleet", "", "EC2 fleet, e.g. m5.xlarge=4,r5.2xlarge=2")
	pf.String("region", "", "AWS region for the EC2 catalog and S3 output")
	pf.String("profile", "", "AWS shared config profile")
	pf.Bool("aws-verbose", false, "Log every AWS API call")

	pf.String("kubeconfig", "", "Kubeconfig path (default loading rules)")
	pf.String("namespace", "", "Restrict pods to one namespace")
	pf.String("node-selector", "", "Label selector for nodes")
	pf.String("class-label", "", "Pod label copied into the workload class")

}

// applyQuantityFlags overlays the quantity-valued map flags, which accept
// suffixes such as "2Ki" and therefore bypass viper's decoding.
func applyQuantityFlags(cfg *config.Config) error {
	if len(serverCapacity) > 0 {
		m, err := parseQuantities(serverCapacity)
		if err != nil {
			return fmt.Errorf("--server-capacity: %w", err)
		}
		cfg.Dataset.ServerCapacity = m
	}
	if len(maxDemand) > 0 {
		m, err := parseQuantities(maxDemand)
		if err != nil {
			return fmt.Errorf("--max-demand: %w", err)
		}
		cfg.Dataset.MaxDemand = m
	}
	return nil
}

func parseQuantities(in map[string]string) (map[string]float64, error) {
	out := make(map[string]float64, len(in))
	for k, s := range in {
		v, err := dataset.ParseQuantity(s)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		out[k] = v
	}
	return out, nil
}

// loadProblem materializes the placement problem from the configured source.
func loadProblem(ctx context.Context, cfg config.Config, logger *slog.Logger) (*placement.Problem, error) {
	schema, err := cfg.Schema()
	if err != nil {
		return nil, err
	}
	switch source {
	case sourceK8s:
		return loadCluster(ctx, cfg, schema, logger)
	case sourceCSV:
		d, err := loadDataset(ctx, cfg, schema, logger)
		if err != nil {
			return nil, err
		}
		return d.Problem(), nil
	default:
		return nil, fmt.Errorf("unknown input source %q", source)
	}
}

func loadDataset(ctx context.Context, cfg config.Config, schema resource.Schema, logger *slog.Logger) (*dataset.Dataset, error) {
	if cfg.Dataset.Workloads == "" {
		return nil, fmt.Errorf("no workload table: set --workloads or dataset.workloads")
	}
	_, workloads, err := dataset.LoadWorkloadsFile(cfg.Dataset.Workloads, dataset.CSVOptions{
		Comma:  cfg.Comma(),
		Schema: schema,
	})
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", cfg.Dataset.Workloads, err)
	}
	d := &dataset.Dataset{Schema: schema, Workloads: workloads}

	names := make([]string, 0, len(cfg.Dataset.MaxDemand))
	for name := range cfg.Dataset.MaxDemand {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, err := d.FilterByResource(name, cfg.Dataset.MaxDemand[name]); err != nil {
			return nil, err
		}
	}
	if cfg.Dataset.Sample > 0 {
		if err := d.Subset(cfg.Dataset.Sample, cfg.Dataset.Seed); err != nil {
			return nil, err
		}
	}

	if d.Servers, err = loadServers(ctx, cfg, schema, len(d.Workloads)); err != nil {
		return nil, err
	}
	logger.Info("Dataset loaded", "dataset", d.String())
	return d, nil
}

func loadServers(ctx context.Context, cfg config.Config, schema resource.Schema, workloads int) ([]resource.Vector, error) {
	switch {
	case cfg.AWS.Fleet != "":
		entries, err := vmaws.ParseFleet(cfg.AWS.Fleet)
		if err != nil {
			return nil, err
		}
		catalog, err := newCatalog(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return catalog.Fleet(ctx, schema, entries)

	case cfg.Dataset.Fleet != "":
		fleet, err := dataset.LoadFleetFile(cfg.Dataset.Fleet)
		if err != nil {
			return nil, err
		}
		declared, err := fleet.Schema(schema)
		if err != nil {
			return nil, err
		}
		if !declared.Equal(schema) {
			return nil, fmt.Errorf("%w: fleet resources %s differ from %s", resource.ErrMalformed, declared, schema)
		}
		var resolver dataset.CapacityResolver
		if types := fleet.InstanceTypes(); len(types) > 0 {
			catalog, err := newCatalog(ctx, cfg)
			if err != nil {
				return nil, err
			}
			if err := catalog.Refresh(ctx, types); err != nil {
				return nil, err
			}
			resolver = catalog
		}
		return fleet.Servers(schema, resolver)

	default:
		capacity, err := schema.Vector(cfg.Dataset.ServerCapacity)
		if err != nil {
			return nil, fmt.Errorf("server capacity: %w", err)
		}
		return dataset.Replicate(capacity, cfg.Dataset.Servers, workloads), nil
	}
}

func newCatalog(ctx context.Context, cfg config.Config) (*vmaws.Catalog, error) {
	catalog, err := vmaws.NewCatalogFromConfig(ctx, cfg.AWS.Region, cfg.AWS.Profile, cfg.AWS.Verbose)
	if err != nil {
		return nil, err
	}
	catalog.EBSStorageGB = cfg.AWS.EBSStorageGB
	return catalog, nil
}

func loadCluster(ctx context.Context, cfg config.Config, schema resource.Schema, logger *slog.Logger) (*placement.Problem, error) {
	cs, err := k8s.NewClientset(cfg.Kubernetes.Kubeconfig)
	if err != nil {
		return nil, err
	}
	opts := k8s.DefaultOptions()
	opts.Namespace = cfg.Kubernetes.Namespace
	if cfg.Kubernetes.ClassLabel != "" {
		opts.ClassLabel = cfg.Kubernetes.ClassLabel
	}
	if cfg.Kubernetes.NodeSelector != "" {
		sel, err := labels.Parse(cfg.Kubernetes.NodeSelector)
		if err != nil {
			return nil, fmt.Errorf("node selector: %w", err)
		}
		opts.NodeSelector = sel
	}
	snap, err := k8s.Take(ctx, cs, schema, opts)
	if err != nil {
		return nil, err
	}
	logger.Info("Cluster snapshot taken", "nodes", len(snap.Servers), "pods", len(snap.Workloads))
	return snap.Problem(), nil
}
