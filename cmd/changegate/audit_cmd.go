package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Mindburn-Labs/changegate/pkg/audit"
)

func newAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Verify and export change request audit trails",
	}
	cmd.AddCommand(newAuditVerifyCmd(), newAuditExportCmd())
	return cmd
}

func newAuditVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <id>",
		Short: "Verify the hash chain of a change request's audit trail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			trail, err := a.svc.AuditTrail(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := audit.Verify(trail); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "OK: %d entries, head %s\n", len(trail), audit.Head(trail))
			return nil
		},
	}
}

func newAuditExportCmd() *cobra.Command {
	var (
		outPath string
		bucket  string
	)
	cmd := &cobra.Command{
		Use:   "export <id>",
		Short: "Build an evidence pack and write it to a file or the export bucket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if bucket != "" {
				cfg.Export.Bucket = bucket
			}
			if outPath == "" && cfg.Export.Bucket == "" {
				return fmt.Errorf("either --out or --bucket (or AUDIT_EXPORT_BUCKET) is required")
			}
			a, err := newApp(cmd.Context(), cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			out := cmd.OutOrStdout()
			if outPath != "" {
				cr, err := a.svc.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				store := audit.FileStore{Root: filepath.Dir(outPath)}
				pack, err := audit.NewExporter(store, "").PublishAs(cmd.Context(), cr, filepath.Base(outPath))
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(out, "wrote %s (%s)\n", outPath, pack.Checksum)
				return nil
			}

			key, pack, err := a.svc.ExportEvidence(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(out, "uploaded %s/%s (%s)\n", cfg.Export.Bucket, key, pack.Checksum)
			return nil
		},
	}
	cmd.Flags().StringVar(&outPath, "out", "", "write the evidence zip to this file")
	cmd.Flags().StringVar(&bucket, "bucket", "", "upload to this bucket instead of AUDIT_EXPORT_BUCKET")
	return cmd
}
