package main

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/accordsai/contractseal/pkg/did"
	"github.com/accordsai/contractseal/pkg/did/didkey"
	"github.com/accordsai/contractseal/pkg/did/didplc"
	"github.com/accordsai/contractseal/pkg/did/didweb"
)

type resolverFunc func(ctx context.Context, id string) (*did.Document, error)

type resolverOptions struct {
	plcDirectory string
	insecureWeb  bool
	fixtures     string
}

func (o *resolverOptions) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.plcDirectory, "plc-directory", didplc.DefaultDirectory, "did:plc directory base URL")
	cmd.Flags().BoolVar(&o.insecureWeb, "insecure-web", false, "fetch did:web documents over plain http")
	cmd.Flags().StringVar(&o.fixtures, "fixtures", "", "YAML file of static DID documents")
}

func (o *resolverOptions) build() (resolverFunc, func(), error) {
	r := did.NewMultiResolver(did.NewCache(time.Minute), quietLogger())
	r.Register(didkey.Method, didkey.New())
	var webOpts []didweb.Option
	if o.insecureWeb {
		webOpts = append(webOpts, didweb.WithInsecureHTTP())
	}
	r.Register(didweb.Method, didweb.New(webOpts...))
	plc := didplc.NewClient(o.plcDirectory)
	r.Register(didplc.Method, plc)

	if o.fixtures != "" {
		static, err := did.LoadFixtures(o.fixtures)
		if err != nil {
			plc.Close()
			return nil, nil, err
		}
		for method := range static.DIDs() {
			if method != didkey.Method && method != didweb.Method && method != didplc.Method {
				r.Register(method, static)
			}
		}
	}
	return r.Resolve, plc.Close, nil
}

func newDIDCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "did",
		Short: "DID document operations",
	}
	cmd.AddCommand(newDIDResolveCommand())
	return cmd
}

func newDIDResolveCommand() *cobra.Command {
	var (
		ropts   resolverOptions
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "resolve <did>",
		Short: "Resolve a DID to its document",
		Example: `  clctl did resolve did:key:z6MkhaXgBZDvotDkL5257faiztiGiC2QtKLGpbnnEGta2doK
  clctl did resolve did:web:example.com
  clctl did resolve did:plc:524tuhdhh3m7li5gycdn6boe`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resolve, closeFn, err := ropts.build()
			if err != nil {
				return err
			}
			defer closeFn()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			doc, err := resolve(ctx, args[0])
			if err != nil {
				return err
			}
			b, err := json.MarshalIndent(doc, "", "  ")
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(b))
			return err
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 15*time.Second, "resolution timeout")
	ropts.register(cmd)
	return cmd
}
