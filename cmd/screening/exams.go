package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"lung-screening-service/internal/domain/entities"
	"lung-screening-service/internal/domain/repositories"
	"lung-screening-service/internal/services"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newExamsCmd(flags *rootFlags) *cobra.Command {
	exams := &cobra.Command{
		Use:   "exams",
		Short: "Inspect and manage saved examinations",
	}
	exams.AddCommand(
		newExamsListCmd(flags),
		newExamsShowCmd(flags),
		newExamsDeleteCmd(flags),
		newExamsPurgeCmd(flags),
	)
	return exams
}

func newExamsListCmd(flags *rootFlags) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List saved examinations in save order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := bootstrap(flags)
			if err != nil {
				return err
			}
			defer rt.Close()

			exams, err := rt.repo.ListAll(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), exams)
			}
			return writeTable(cmd.OutOrStdout(), exams)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}

func newExamsShowCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "show <examination-id>",
		Short: "Print one saved examination as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("examination id: %w", err)
			}
			rt, err := bootstrap(flags)
			if err != nil {
				return err
			}
			defer rt.Close()

			exams, err := rt.repo.ListAll(cmd.Context())
			if err != nil {
				return err
			}
			for _, e := range exams {
				if e.ExaminationID == id {
					return writeJSON(cmd.OutOrStdout(), e)
				}
			}
			return fmt.Errorf("%s: %w", id, repositories.ErrExaminationNotFound)
		},
	}
}

func newExamsDeleteCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <examination-id>",
		Short: "Delete a saved examination",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("examination id: %w", err)
			}
			rt, err := bootstrap(flags)
			if err != nil {
				return err
			}
			defer rt.Close()

			if err := rt.repo.DeleteByID(cmd.Context(), id); err != nil {
				return err
			}
			rt.logger.Info("saved examination deleted", zap.String("examinationId", id.String()))
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", id)
			return nil
		},
	}
}

func newExamsPurgeCmd(flags *rootFlags) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete every saved examination",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return errors.New("purge deletes every saved examination; pass --yes to confirm")
			}
			rt, err := bootstrap(flags)
			if err != nil {
				return err
			}
			defer rt.Close()

			if err := rt.repo.DeleteAll(cmd.Context()); err != nil {
				return err
			}
			rt.logger.Info("all saved examinations deleted")
			fmt.Fprintln(cmd.OutOrStdout(), "purged")
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm deleting everything")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeTable(w io.Writer, exams []*entities.Examination) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tDATE\tPATIENT\tIMAGES\tTB RISK\tCATEGORY")
	for _, e := range exams {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%.1f%%\t%s\n",
			e.ExaminationID,
			e.Date.Local().Format(time.DateTime),
			e.PatientName,
			len(e.Images),
			e.TBRisk,
			services.CategorizeRisk(e.TBRisk))
	}
	return tw.Flush()
}
