package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jonwraymond/scriptrun/skill"
)

var (
	skillsListDirFlag   string
	skillsListLabelFlag string
)

var skillsCmd = &cobra.Command{
	Use:   "skills",
	Short: "List the skills visible to an execution",
	Args:  cobra.NoArgs,
	RunE:  runSkills,
}

func init() {
	skillsCmd.Flags().StringVar(&skillsListDirFlag, "skills-dir", "skills", "Directory of skill manifests")
	skillsCmd.Flags().StringVar(&skillsListLabelFlag, "label", "", "Visibility label to filter by")
	rootCmd.AddCommand(skillsCmd)
}

func runSkills(cmd *cobra.Command, _ []string) error {
	library := skill.NewLibrary()
	if err := library.LoadFrom(cmd.Context(), skill.DirLoader{Dir: skillsListDirFlag}); err != nil {
		return fmt.Errorf("loading skills: %w", err)
	}
	for _, s := range library.Visible(skillsListLabelFlag) {
		fmt.Printf("%-24s %s\n", s.Name, s.Description)
	}
	return nil
}
