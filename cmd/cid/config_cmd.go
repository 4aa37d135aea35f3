package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if globalCfg == nil {
				return fmt.Errorf("config not loaded")
			}

			if cfgPath != "" {
				fmt.Printf("config file: %s\n", cfgPath)
			} else {
				fmt.Println("config file: (defaults, none found)")
			}
			fmt.Printf("db_path: %s\n", globalCfg.DBPath)
			fmt.Printf("sites: %d\n", len(globalCfg.Sites))

			for _, site := range globalCfg.Sites {
				fmt.Printf("\n[%s]\n", site.Name)
				fmt.Printf("  base_url:    %s\n", site.BaseURL)
				fmt.Printf("  versions:    %v\n", site.VersionList)
				if len(site.AfterVersionURL) > 0 {
					fmt.Printf("  after:       %v\n", site.AfterVersionURL)
				}
				fmt.Printf("  filter:      %s\n", site.ImageNameFilter)
				if len(site.ImageNameCleanse) > 0 {
					fmt.Printf("  cleanse:     %v\n", site.ImageNameCleanse)
				}
				if site.Normalize != "" {
					fmt.Printf("  normalize:   %s\n", site.Normalize)
				}
				fmt.Printf("  destination: %s\n", site.Destination)
			}
			return nil
		},
	}
}
