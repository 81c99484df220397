package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	limitsServiceKey  string
	limitsCustomerKey string
)

var limitsCmd = &cobra.Command{
	Use:   "limits",
	Short: "Manage cached triggered usage limits",
}

var limitsRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Fetch the current triggered limits and update the shared INI file",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := resolveOptions()
		if err != nil {
			return err
		}
		s, err := buildSDK(opts)
		if err != nil {
			return err
		}
		defer stopQuietly(s)

		if err := s.manager.Refresh(cmd.Context()); err != nil {
			return err
		}
		fmt.Printf("triggered limits refreshed into %s\n", s.store.Path())
		return nil
	},
}

var limitsCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "List cached limits matching a scope",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := resolveOptions()
		if err != nil {
			return err
		}
		s, err := buildSDK(opts)
		if err != nil {
			return err
		}
		defer stopQuietly(s)

		matched, err := s.cache.Query(opts.APIKeyID, limitsServiceKey, limitsCustomerKey)
		if err != nil {
			return err
		}
		if len(matched) == 0 {
			fmt.Println("no triggered limits match")
			return nil
		}
		for _, l := range matched {
			verdict := "alert"
			if l.Blocks() {
				verdict = "BLOCKING"
			}
			fmt.Printf("%s  limit=%s amount=%s period=%s vendor=%s service=%s\n",
				verdict, l.LimitID, l.Amount, l.Period, l.Vendor, l.ServiceID)
		}
		return nil
	},
}

func init() {
	limitsCheckCmd.Flags().StringVar(&limitsServiceKey, "service-key", "", "service key scope, e.g. openai::gpt-4o")
	limitsCheckCmd.Flags().StringVar(&limitsCustomerKey, "customer-key", "", "client customer key scope")
	limitsCmd.AddCommand(limitsRefreshCmd)
	limitsCmd.AddCommand(limitsCheckCmd)
	rootCmd.AddCommand(limitsCmd)
}
