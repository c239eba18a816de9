package cli

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"
)

func newClassifyCmd(env Environment) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "classify [query]",
		Short: "Show how a query would be routed",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			classifier, err := env.Classifier()
			if err != nil {
				return err
			}
			cls := classifier.Classify(strings.Join(args, " "))

			if asJSON {
				data, err := json.MarshalIndent(cls, "", "  ")
				if err != nil {
					return fmt.Errorf("marshal classification: %w", err)
				}
				cmd.Println(string(data))
				return nil
			}

			primary := cls.PrimaryCategory
			if primary == "" {
				primary = "-"
			}
			cmd.Printf("query type: %s\n", cls.QueryType)
			cmd.Printf("confidence: %s\n", cls.Confidence)
			cmd.Printf("primary:    %s\n", primary)

			categories := make([]string, 0, len(cls.Weights))
			for category := range cls.Weights {
				categories = append(categories, category)
			}
			sort.Strings(categories)
			for _, category := range categories {
				cmd.Printf("  %-14s %.2f\n", category, cls.Weights[category])
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "output the classification as JSON")
	return cmd
}
