package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"chatmate-server/internal/chatctl/api"
	"chatmate-server/internal/model"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "查看和切换模型",
}

var modelsListCmd = &cobra.Command{
	Use:   "list",
	Short: "列出可选模型，* 为当前选择",
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			models   []model.ModelInfo
			selected string
		)
		err := withAuth(cmd.Context(), func(c *api.Client) error {
			var err error
			if models, err = c.ListModels(cmd.Context()); err != nil {
				return err
			}
			selected, err = c.SelectedModel(cmd.Context())
			return err
		})
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		for _, m := range models {
			mark := ""
			if m.ID == selected {
				mark = "*"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", mark, m.ID, m.Name)
		}
		return w.Flush()
	},
}

var modelsSelectCmd = &cobra.Command{
	Use:   "select <model-id>",
	Short: "切换模型",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		err := withAuth(cmd.Context(), func(c *api.Client) error {
			return c.SelectModel(cmd.Context(), args[0])
		})
		if err != nil {
			return err
		}
		fmt.Printf("✓ 已切换到 %s\n", args[0])
		return nil
	},
}

func init() {
	modelsCmd.AddCommand(modelsListCmd, modelsSelectCmd)
	rootCmd.AddCommand(modelsCmd)
}
