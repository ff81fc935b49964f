// Copyright 2015 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package cli

import (
	"context"
	"net"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/spannerbatch/pkg/base"
	"github.com/cockroachdb/spannerbatch/pkg/cli/cliflags"
	"github.com/cockroachdb/spannerbatch/pkg/util/envutil"
	"github.com/cockroachdb/spannerbatch/pkg/util/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// cliState holds the flag destinations and the assembled configuration of
// one invocation.
type cliState struct {
	lookup envutil.LookupFunc

	// configPath is the --config flag.
	configPath string
	// flags receives the global flags. Only the ones set explicitly are
	// copied into cfg.
	flags base.Config
	// cfg is the assembled configuration, valid once the persistent pre-run
	// hook has run.
	cfg base.Config

	// Command flags.
	sql        string
	table      string
	index      string
	columns    []string
	keys       []string
	snapshot   string
	partition  string
	manifest   string
	output     string
	closeAfter bool

	knobs testingKnobs
}

type testingKnobs struct {
	// dialer, if set, replaces the network dialer of the gRPC service.
	dialer func(context.Context, string) (net.Conn, error)
}

func newCLIState(lookup envutil.LookupFunc) *cliState {
	return &cliState{lookup: lookup, flags: base.DefaultConfig()}
}

// AddPersistentPreRunE add 'fn' as a persistent pre-run function to 'cmd'.
// If the command has an existing pre-run function, it is saved and will be called
// at the beginning of 'fn'.
func AddPersistentPreRunE(cmd *cobra.Command, fn func(*cobra.Command, []string) error) {
	wrapped := cmd.PersistentPreRunE
	cmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if wrapped != nil {
			if err := wrapped(cmd, args); err != nil {
				return err
			}
		}
		return fn(cmd, args)
	}
}

// StringFlag creates a string flag and registers it with the FlagSet.
func StringFlag(f *pflag.FlagSet, valPtr *string, flagInfo cliflags.FlagInfo, defaultVal string) {
	f.StringVarP(valPtr, flagInfo.Name, flagInfo.Shorthand, defaultVal, flagInfo.Usage())
}

// StringSliceFlag creates a comma separated list flag.
func StringSliceFlag(f *pflag.FlagSet, valPtr *[]string, flagInfo cliflags.FlagInfo) {
	f.StringSliceVarP(valPtr, flagInfo.Name, flagInfo.Shorthand, nil, flagInfo.Usage())
}

// IntFlag creates an int flag and registers it with the FlagSet.
func IntFlag(f *pflag.FlagSet, valPtr *int, flagInfo cliflags.FlagInfo, defaultVal int) {
	f.IntVarP(valPtr, flagInfo.Name, flagInfo.Shorthand, defaultVal, flagInfo.Usage())
}

// Int32Flag creates an int32 flag and registers it with the FlagSet.
func Int32Flag(f *pflag.FlagSet, valPtr *int32, flagInfo cliflags.FlagInfo, defaultVal int32) {
	f.Int32VarP(valPtr, flagInfo.Name, flagInfo.Shorthand, defaultVal, flagInfo.Usage())
}

// Int64Flag creates an int64 flag and registers it with the FlagSet.
func Int64Flag(f *pflag.FlagSet, valPtr *int64, flagInfo cliflags.FlagInfo, defaultVal int64) {
	f.Int64VarP(valPtr, flagInfo.Name, flagInfo.Shorthand, defaultVal, flagInfo.Usage())
}

// BoolFlag creates a bool flag and registers it with the FlagSet.
func BoolFlag(f *pflag.FlagSet, valPtr *bool, flagInfo cliflags.FlagInfo, defaultVal bool) {
	f.BoolVarP(valPtr, flagInfo.Name, flagInfo.Shorthand, defaultVal, flagInfo.Usage())
}

// DurationFlag creates a duration flag and registers it with the FlagSet.
func DurationFlag(
	f *pflag.FlagSet, valPtr *time.Duration, flagInfo cliflags.FlagInfo, defaultVal time.Duration,
) {
	f.DurationVarP(valPtr, flagInfo.Name, flagInfo.Shorthand, defaultVal, flagInfo.Usage())
}

// VarFlag creates a custom-variable flag and registers it with the FlagSet.
func VarFlag(f *pflag.FlagSet, value pflag.Value, flagInfo cliflags.FlagInfo) {
	f.VarP(value, flagInfo.Name, flagInfo.Shorthand, flagInfo.Usage())
}

func addGlobalFlags(cmd *cobra.Command, st *cliState) {
	f := cmd.PersistentFlags()
	def := base.DefaultConfig()
	StringFlag(f, &st.configPath, cliflags.Config, "")
	StringFlag(f, &st.flags.Project, cliflags.Project, "")
	StringFlag(f, &st.flags.Instance, cliflags.Instance, "")
	StringFlag(f, &st.flags.Database, cliflags.Database, "")
	StringFlag(f, &st.flags.Host, cliflags.Host, def.Host)
	BoolFlag(f, &st.flags.Insecure, cliflags.Insecure, false)
	VarFlag(f, &st.flags.ResourceBasedRouting, cliflags.ResourceBasedRouting)
	// --resource-based-routing alone means true.
	f.Lookup(cliflags.ResourceBasedRouting.Name).NoOptDefVal = "true"
	StringFlag(f, &st.flags.MetricsAddr, cliflags.MetricsAddr, "")
	Int32Flag(f, &st.flags.Verbosity, cliflags.Verbosity, 0)
	DurationFlag(f, &st.flags.RPCTimeout, cliflags.RPCTimeout, def.RPCTimeout)
}

func addPartitionOptionFlags(cmd *cobra.Command, st *cliState) {
	f := cmd.Flags()
	Int64Flag(f, &st.flags.PartitionSizeBytes, cliflags.PartitionSizeBytes, 0)
	Int64Flag(f, &st.flags.MaxPartitions, cliflags.MaxPartitions, 0)
	StringFlag(f, &st.output, cliflags.Output, "")
}

// applyFlags copies the explicitly set flags in fs into cfg.
func (st *cliState) applyFlags(fs *pflag.FlagSet, cfg *base.Config) {
	for _, o := range []struct {
		info  cliflags.FlagInfo
		apply func()
	}{
		{cliflags.Project, func() { cfg.Project = st.flags.Project }},
		{cliflags.Instance, func() { cfg.Instance = st.flags.Instance }},
		{cliflags.Database, func() { cfg.Database = st.flags.Database }},
		{cliflags.Host, func() { cfg.Host = st.flags.Host }},
		{cliflags.Insecure, func() { cfg.Insecure = st.flags.Insecure }},
		{cliflags.ResourceBasedRouting, func() { cfg.ResourceBasedRouting = st.flags.ResourceBasedRouting }},
		{cliflags.MetricsAddr, func() { cfg.MetricsAddr = st.flags.MetricsAddr }},
		{cliflags.Verbosity, func() { cfg.Verbosity = st.flags.Verbosity }},
		{cliflags.RPCTimeout, func() { cfg.RPCTimeout = st.flags.RPCTimeout }},
		{cliflags.Concurrency, func() { cfg.Concurrency = st.flags.Concurrency }},
		{cliflags.PartitionSizeBytes, func() { cfg.PartitionSizeBytes = st.flags.PartitionSizeBytes }},
		{cliflags.MaxPartitions, func() { cfg.MaxPartitions = st.flags.MaxPartitions }},
	} {
		if fl := fs.Lookup(o.info.Name); fl != nil && fl.Changed {
			o.apply()
		}
	}
}

// assemble builds st.cfg. It runs before every command.
func (st *cliState) assemble(cmd *cobra.Command, _ []string) error {
	cfg, err := base.Assemble(st.configPath, st.lookup, func(cfg *base.Config) {
		st.applyFlags(cmd.Flags(), cfg)
	})
	if err != nil {
		return errors.Mark(err, errConfig)
	}
	st.cfg = cfg
	log.SetVerbosity(cfg.Verbosity)
	return nil
}
