package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/anvil-platform/pkggraph/internal/depid"
	"github.com/anvil-platform/pkggraph/internal/graph"
	"github.com/anvil-platform/pkggraph/internal/manifest"
	"github.com/anvil-platform/pkggraph/internal/resolver"
	"github.com/anvil-platform/pkggraph/internal/spec"
	"github.com/anvil-platform/pkggraph/internal/workspace"
)

// configFile is looked up in the project root when --config is not given.
const configFile = ".pkggraph.yaml"

var errIncomplete = errors.New("resolution incomplete")

type registryFlags struct {
	config     string
	registry   string
	registries map[string]string
}

func (f *registryFlags) bind(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&f.config, "config", "", "Registry configuration file (defaults to "+configFile+" in the project root).")
	cmd.PersistentFlags().StringVar(&f.registry, "registry", "", "Default registry URL.")
	cmd.PersistentFlags().StringToStringVar(&f.registries, "scope-registry", nil, "Named registries as alias=url.")
}

// options merges the defaults, the config file and the flags, in that order.
func (f *registryFlags) options(root string) (spec.Options, error) {
	o := spec.DefaultOptions()
	p := f.config
	if p == "" && root != "" {
		if _, err := os.Stat(filepath.Join(root, configFile)); err == nil {
			p = filepath.Join(root, configFile)
		}
	}
	if p != "" {
		data, err := os.ReadFile(p)
		if err != nil {
			return o, fmt.Errorf("read config: %w", err)
		}
		var fromFile spec.Options
		if err := yaml.Unmarshal(data, &fromFile); err != nil {
			return o, fmt.Errorf("decode config %s: %w", p, err)
		}
		if fromFile.Registry != "" {
			o.Registry = fromFile.Registry
		}
		for alias, url := range fromFile.Registries {
			o.Registries[alias] = url
		}
	}
	if f.registry != "" {
		o.Registry = f.registry
	}
	for alias, url := range f.registries {
		o.Registries[alias] = url
	}
	return o, nil
}

func newRootCmd(zapOpts *zap.Options) *cobra.Command {
	root := &cobra.Command{
		Use:           "pkggraph",
		Short:         "Resolve the dependency graph of a package workspace",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			log.SetLogger(zap.New(zap.UseFlagOptions(zapOpts), zap.WriteTo(cmd.ErrOrStderr())))
			cmd.SetContext(log.IntoContext(cmd.Context(), log.Log.WithName("pkggraph")))
		},
	}
	fs := flag.NewFlagSet("zap", flag.ContinueOnError)
	zapOpts.BindFlags(fs)
	root.PersistentFlags().AddGoFlagSet(fs)

	var rf registryFlags
	rf.bind(root)

	root.AddCommand(newResolveCmd(&rf), newCheckCmd(&rf), newIDCmd(&rf))
	return root
}

type projectFlags struct {
	fixture      string
	format       string
	allowMissing bool
}

func (p *projectFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&p.fixture, "fixture", "", "YAML registry fixture serving package manifests.")
	cmd.Flags().StringVarP(&p.format, "output", "o", "text", "Output format: text or yaml.")
	cmd.Flags().BoolVar(&p.allowMissing, "allow-missing", false, "Exit zero even when required dependencies are unresolved.")
}

// resolveProject loads the project at dir and builds its graph.
func resolveProject(cmd *cobra.Command, dir string, rf *registryFlags, pf *projectFlags) (*resolver.DefaultResolver, resolver.Input, resolver.Plan, error) {
	ctx := cmd.Context()
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, resolver.Input{}, resolver.Plan{}, err
	}
	opts, err := rf.options(root)
	if err != nil {
		return nil, resolver.Input{}, resolver.Plan{}, err
	}
	rootManifest, workspaces, err := workspace.Load(ctx, root)
	if err != nil {
		return nil, resolver.Input{}, resolver.Plan{}, err
	}

	store := manifest.NewStore()
	if pf.fixture != "" {
		if store, err = manifest.LoadFixture(pf.fixture); err != nil {
			return nil, resolver.Input{}, resolver.Plan{}, err
		}
	}
	if err := store.AddDir(ctx, root); err != nil {
		return nil, resolver.Input{}, resolver.Plan{}, err
	}

	r := resolver.NewDefault(store, resolver.WithSpecOptions(opts))
	in := resolver.Input{ProjectRoot: root, Main: rootManifest, Workspaces: workspaces}
	plan, err := r.Resolve(ctx, in)
	return r, in, plan, err
}

func newResolveCmd(rf *registryFlags) *cobra.Command {
	var pf projectFlags
	cmd := &cobra.Command{
		Use:   "resolve [dir]",
		Short: "Resolve a project and print its dependency graph",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, _, plan, err := resolveProject(cmd, dirArg(args), rf, &pf)
			if err != nil {
				return err
			}
			if err := writePlan(cmd.OutOrStdout(), pf.format, plan); err != nil {
				return err
			}
			if !plan.Diagnostics.OK() && !pf.allowMissing {
				return fmt.Errorf("%w: %d unresolved, %d peer conflicts", errIncomplete,
					len(plan.Diagnostics.UnresolvedRequired), len(plan.Diagnostics.PeerConflicts))
			}
			return nil
		},
	}
	pf.bind(cmd)
	return cmd
}

func newCheckCmd(rf *registryFlags) *cobra.Command {
	var pf projectFlags
	cmd := &cobra.Command{
		Use:   "check [dir]",
		Short: "Resolve a project and verify the graph invariants",
		Long: "check resolves the project, validates the graph structure, checks every edge " +
			"against its declaration and runs an incremental update that must keep the graph unchanged.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, in, plan, err := resolveProject(cmd, dirArg(args), rf, &pf)
			if err != nil {
				return err
			}
			g := plan.Graph
			errs := []error{g.Validate()}
			for _, n := range g.NodeList() {
				for _, name := range sortedEdgeNames(n) {
					e := n.EdgesOut[name]
					ok, err := graph.EdgeValid(e, nil)
					switch {
					case err != nil:
						errs = append(errs, err)
					case !ok && !e.Missing():
						errs = append(errs, fmt.Errorf("edge %s does not satisfy its specifier", e))
					}
				}
			}

			before, edges := len(g.Nodes), g.Edges.Len()
			if _, err := r.Update(cmd.Context(), g, in); err != nil {
				errs = append(errs, fmt.Errorf("update: %w", err))
			} else if len(g.Nodes) != before || g.Edges.Len() != edges {
				errs = append(errs, fmt.Errorf("update changed the graph: %d -> %d nodes, %d -> %d edges",
					before, len(g.Nodes), edges, g.Edges.Len()))
			}
			if err := utilerrors.NewAggregate(errs); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: %d nodes, %d edges, %d missing\n",
				len(g.Nodes), g.Edges.Len(), g.MissingDependencies.Len())
			return nil
		},
	}
	cmd.Flags().StringVar(&pf.fixture, "fixture", "", "YAML registry fixture serving package manifests.")
	return cmd
}

func newIDCmd(rf *registryFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "id",
		Short: "Encode, decode and convert dependency IDs",
	}

	var t depid.Tuple
	var typ string
	encode := &cobra.Command{
		Use:   "encode",
		Short: "Encode a dependency tuple",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			t.Type = spec.Type(typ)
			id, err := depid.Encode(t)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
	encode.Flags().StringVar(&typ, "type", string(spec.TypeRegistry), "Dependency type.")
	encode.Flags().StringVar(&t.Origin, "origin", "", "Registry, remote, URL or path.")
	encode.Flags().StringVar(&t.Selector, "selector", "", "name@version for registry IDs, committish for git IDs.")
	encode.Flags().StringVar(&t.Extra, "extra", "", "Disambiguating suffix.")

	decode := &cobra.Command{
		Use:   "decode <id>",
		Short: "Decode a dependency ID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := depid.Decode(depid.ID(args[0]))
			if err != nil {
				return err
			}
			return yaml.NewEncoder(cmd.OutOrStdout()).Encode(tupleOut{
				Type:     string(t.Type),
				Origin:   t.Origin,
				Selector: t.Selector,
				Extra:    t.Extra,
			})
		},
	}

	base := &cobra.Command{
		Use:   "base <id>",
		Short: "Strip the extra field from a dependency ID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := depid.Base(depid.ID(args[0]))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}

	var name string
	hydrate := &cobra.Command{
		Use:   "hydrate <id>",
		Short: "Print a specifier that resolves to a dependency ID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := rf.options("")
			if err != nil {
				return err
			}
			depid.Configure(opts)
			s, err := depid.Hydrate(depid.ID(args[0]), name, opts)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), s)
			return nil
		},
	}
	hydrate.Flags().StringVar(&name, "name", "", "Dependency name to declare the specifier under.")

	cmd.AddCommand(encode, decode, base, hydrate)
	return cmd
}

type tupleOut struct {
	Type     string `yaml:"type"`
	Origin   string `yaml:"origin,omitempty"`
	Selector string `yaml:"selector,omitempty"`
	Extra    string `yaml:"extra,omitempty"`
}

func dirArg(args []string) string {
	if len(args) == 0 {
		return "."
	}
	return args[0]
}
