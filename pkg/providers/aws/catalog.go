package aws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/DrSkyle/vmplace/pkg/resource"
)

// ErrUnknownInstanceType is returned for types missing from the catalog after
// a refresh.
var ErrUnknownInstanceType = errors.New("unknown instance type")

// InstanceSpec is the capacity of one EC2 instance type.
type InstanceSpec struct {
	VCPU      float64
	MemoryGiB float64
	// StorageGB is the local instance store size. Zero for EBS-only types.
	StorageGB float64
	Arch      string
}

// staticSpecs seeds the catalog so common types resolve without API access.
var staticSpecs = map[string]InstanceSpec{
	"t3.medium":    {VCPU: 2, MemoryGiB: 4, Arch: "x86_64"},
	"t3.large":     {VCPU: 2, MemoryGiB: 8, Arch: "x86_64"},
	"t3.xlarge":    {VCPU: 4, MemoryGiB: 16, Arch: "x86_64"},
	"m5.large":     {VCPU: 2, MemoryGiB: 8, Arch: "x86_64"},
	"m5.xlarge":    {VCPU: 4, MemoryGiB: 16, Arch: "x86_64"},
	"m5.2xlarge":   {VCPU: 8, MemoryGiB: 32, Arch: "x86_64"},
	"m5.4xlarge":   {VCPU: 16, MemoryGiB: 64, Arch: "x86_64"},
	"m5d.2xlarge":  {VCPU: 8, MemoryGiB: 32, StorageGB: 300, Arch: "x86_64"},
	"m6g.xlarge":   {VCPU: 4, MemoryGiB: 16, Arch: "arm64"},
	"c5.2xlarge":   {VCPU: 8, MemoryGiB: 16, Arch: "x86_64"},
	"c5d.4xlarge":  {VCPU: 16, MemoryGiB: 32, StorageGB: 400, Arch: "x86_64"},
	"r5.2xlarge":   {VCPU: 8, MemoryGiB: 64, Arch: "x86_64"},
	"r5d.4xlarge":  {VCPU: 16, MemoryGiB: 128, StorageGB: 600, Arch: "x86_64"},
	"i3.4xlarge":   {VCPU: 16, MemoryGiB: 122, StorageGB: 3800, Arch: "x86_64"},
	"m5d.16xlarge": {VCPU: 64, MemoryGiB: 256, StorageGB: 3600, Arch: "x86_64"},
}

// Catalog maps instance types to their specs. It starts from a static table
// and is refreshed from DescribeInstanceTypes on demand. Safe for concurrent
// use.
type Catalog struct {
	client ec2.DescribeInstanceTypesAPIClient
	// EBSStorageGB is used as storage capacity for EBS-only types.
	EBSStorageGB float64

	mu    sync.RWMutex
	specs map[string]InstanceSpec
}

// NewCatalog returns a catalog backed by client. client may be nil, in which
// case only the static table is available.
func NewCatalog(client ec2.DescribeInstanceTypesAPIClient) *Catalog {
	specs := make(map[string]InstanceSpec, len(staticSpecs))
	for k, v := range staticSpecs {
		specs[k] = v
	}
	return &Catalog{client: client, specs: specs}
}

// NewCatalogFromConfig builds a catalog using an EC2 client for cfg.
func NewCatalogFromConfig(ctx context.Context, region, profile string, verbose bool) (*Catalog, error) {
	cfg, err := LoadConfig(ctx, region, profile, verbose)
	if err != nil {
		return nil, err
	}
	return NewCatalog(ec2.NewFromConfig(cfg)), nil
}

// Spec returns the spec of an instance type.
func (c *Catalog) Spec(instanceType string) (InstanceSpec, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.specs[instanceType]
	return s, ok
}

// Refresh fetches the types not yet in the catalog.
func (c *Catalog) Refresh(ctx context.Context, instanceTypes []string) error {
	seen := make(map[string]bool)
	var unknown []types.InstanceType

	c.mu.RLock()
	for _, t := range instanceTypes {
		if _, ok := c.specs[t]; !ok && !seen[t] {
			unknown = append(unknown, types.InstanceType(t))
			seen[t] = true
		}
	}
	c.mu.RUnlock()

	if len(unknown) == 0 {
		return nil
	}
	if c.client == nil {
		return fmt.Errorf("%w: %v (no EC2 client configured)", ErrUnknownInstanceType, unknown)
	}

	paginator := ec2.NewDescribeInstanceTypesPaginator(c.client, &ec2.DescribeInstanceTypesInput{
		InstanceTypes: unknown,
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			slog.Warn("failed to sync instance specs", "types", unknown, "error", err)
			return err
		}

		c.mu.Lock()
		for _, info := range page.InstanceTypes {
			c.specs[string(info.InstanceType)] = specFromInfo(info)
		}
		c.mu.Unlock()
	}
	return nil
}

func specFromInfo(info types.InstanceTypeInfo) InstanceSpec {
	var s InstanceSpec
	if info.VCpuInfo != nil && info.VCpuInfo.DefaultVCpus != nil {
		s.VCPU = float64(*info.VCpuInfo.DefaultVCpus)
	}
	if info.MemoryInfo != nil && info.MemoryInfo.SizeInMiB != nil {
		s.MemoryGiB = float64(*info.MemoryInfo.SizeInMiB) / 1024
	}
	if info.InstanceStorageInfo != nil && info.InstanceStorageInfo.TotalSizeInGB != nil {
		s.StorageGB = float64(*info.InstanceStorageInfo.TotalSizeInGB)
	}
	s.Arch = "x86_64"
	if info.ProcessorInfo != nil && len(info.ProcessorInfo.SupportedArchitectures) > 0 {
		s.Arch = string(info.ProcessorInfo.SupportedArchitectures[0])
	}
	return s
}

// Capacity expresses an instance type in the schema's resources. Only vcpu,
// memory (GiB) and storage (GB) are known.
func (c *Catalog) Capacity(schema resource.Schema, instanceType string) (resource.Vector, error) {
	spec, ok := c.Spec(instanceType)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownInstanceType, instanceType)
	}
	storage := spec.StorageGB
	if storage == 0 {
		storage = c.EBSStorageGB
	}
	values := map[string]float64{
		resource.VCPU:    spec.VCPU,
		resource.Memory:  spec.MemoryGiB,
		resource.Storage: storage,
	}
	out := schema.Zero()
	for d, name := range schema.Names() {
		v, ok := values[name]
		if !ok {
			return nil, fmt.Errorf("%w: resource %q has no EC2 equivalent", resource.ErrMalformed, name)
		}
		out[d] = v
	}
	return out, nil
}

// FleetEntry is a number of servers of one instance type.
type FleetEntry struct {
	InstanceType string
	Count        int
}

// ParseFleet parses "m5.xlarge=4,r5.2xlarge=2". A bare type counts once.
func ParseFleet(s string) ([]FleetEntry, error) {
	var out []FleetEntry
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, count, found := strings.Cut(part, "=")
		e := FleetEntry{InstanceType: strings.TrimSpace(name), Count: 1}
		if found {
			n, err := strconv.Atoi(strings.TrimSpace(count))
			if err != nil || n < 0 {
				return nil, fmt.Errorf("invalid count in fleet entry %q", part)
			}
			e.Count = n
		}
		out = append(out, e)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("empty fleet")
	}
	return out, nil
}

// Fleet expands entries into an ordered server list, refreshing unknown types
// first.
func (c *Catalog) Fleet(ctx context.Context, schema resource.Schema, entries []FleetEntry) ([]resource.Vector, error) {
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.InstanceType)
	}
	if err := c.Refresh(ctx, names); err != nil {
		return nil, err
	}

	var servers []resource.Vector
	for _, e := range entries {
		capacity, err := c.Capacity(schema, e.InstanceType)
		if err != nil {
			return nil, err
		}
		for i := 0; i < e.Count; i++ {
			servers = append(servers, capacity.Clone())
		}
	}
	return servers, nil
}

// Types lists the catalog keys in sorted order.
func (c *Catalog) Types() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.specs))
	for k := range c.specs {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
