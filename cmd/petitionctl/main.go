package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"petition-hand/services"
	"petition-hand/validators"
)

var version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "petitionctl",
		Short: "Petition form tooling",
		Long: `petitionctl offers offline helpers for the petition generation
service: national id validation and placeholder categorization.`,
		Version: version,
	}

	rootCmd.AddCommand(validateIDCmd())
	rootCmd.AddCommand(categorizeCmd())
	rootCmd.AddCommand(maskCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func validateIDCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate-id [number...]",
		Short: "Validate CPF or CNPJ check digits",
		Long: `Validate one or more CPF/CNPJ numbers. The kind is inferred from
the digit count unless --kind forces it.

Example:
  petitionctl validate-id 111.444.777-35
  petitionctl validate-id --kind cnpj 11.222.333/0001-81`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kindFlag, _ := cmd.Flags().GetString("kind")

			failed := 0
			for _, raw := range args {
				digits := validators.OnlyDigits(raw)
				kind := validators.Person
				switch {
				case kindFlag == "cnpj":
					kind = validators.Company
				case kindFlag == "cpf":
					kind = validators.Person
				case len(digits) == 14:
					kind = validators.Company
				}

				if validators.ValidateNationalID(kind, raw) {
					fmt.Printf("%s: valid %s\n", raw, strings.ToLower(string(kind)))
				} else {
					fmt.Printf("%s: INVALID\n", raw)
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d numbers failed validation", failed, len(args))
			}
			return nil
		},
	}
	cmd.Flags().String("kind", "", "force the id kind: cpf or cnpj")
	return cmd
}

func categorizeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "categorize [key...]",
		Short: "Categorize placeholder keys",
		Long: `Classify raw placeholder keys into their form groups.

Example:
  petitionctl categorize claimant_cpf entity_2_address_city authority_name`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			asJSON, _ := cmd.Flags().GetBool("json")

			type result struct {
				Key         string `json:"key"`
				Category    string `json:"category"`
				EntityIndex *int   `json:"entity_index,omitempty"`
			}
			results := make([]result, 0, len(args))
			for _, key := range args {
				cat, idx := services.Categorize(key)
				results = append(results, result{Key: key, Category: string(cat), EntityIndex: idx})
			}

			if asJSON {
				return json.NewEncoder(os.Stdout).Encode(results)
			}
			for _, r := range results {
				if r.EntityIndex != nil {
					fmt.Printf("%-40s %s (entity %d)\n", r.Key, r.Category, *r.EntityIndex)
				} else {
					fmt.Printf("%-40s %s\n", r.Key, r.Category)
				}
			}
			return nil
		},
	}
	cmd.Flags().Bool("json", false, "emit JSON instead of a table")
	return cmd
}

func maskCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mask <field-key> <value>",
		Short: "Apply the display mask a field key selects",
		Long: `Render a value with the input mask its field key selects.

Example:
  petitionctl mask claimant_cpf 11144477735`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(validators.FormatField(args[0], args[1]))
			return nil
		},
	}
}
