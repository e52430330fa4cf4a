package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"certd/internal/certmgr"
	certderrors "certd/internal/errors"
)

func (c *cli) loginCmd() *cobra.Command {
	var name, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Open a session and save its token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if name == "" {
				return certderrors.Invalid("name", "", "an account name is required")
			}
			if password == "" {
				password = os.Getenv(envPassword)
			}
			if password == "" {
				var err error
				if password, err = c.readLine("Password: "); err != nil {
					return err
				}
			}
			api, err := c.client()
			if err != nil {
				return err
			}
			session, err := api.Login(cmd.Context(), name, password)
			if err != nil {
				return err
			}
			if err := c.saveToken(session.Token); err != nil {
				return err
			}
			fmt.Fprintf(c.out, "Logged in as %s until %s\n", session.Name, session.ExpiresAt.Local().Format("2006-01-02 15:04"))
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "account name")
	cmd.Flags().StringVar(&password, "password", "", "password (env "+envPassword+", else prompted)")
	return cmd
}

func (c *cli) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the saved session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			api, err := c.client()
			if err != nil {
				return err
			}
			if err := api.Logout(cmd.Context()); err != nil {
				return err
			}
			if err := os.Remove(c.tokenFile); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("%w: %v", certderrors.ErrIO, err)
			}
			fmt.Fprintln(c.out, "Logged out")
			return nil
		},
	}
}

// requestFlags are the certificate request parameters shared by csr and
// install.
type requestFlags struct {
	certType string
	newCSR   bool
	keySize  string
	digest   string
	days     string
	subject  certmgr.SubjectFields
	sans     []string
}

func (f *requestFlags) register(cmd *cobra.Command, withDays bool) {
	fl := cmd.Flags()
	fl.StringVar(&f.certType, "type", "self", "certificate type: self or comm")
	fl.StringVar(&f.keySize, "keysize", "", "RSA key size, 2048 or more")
	fl.StringVar(&f.digest, "digest", "", "message digest (sha256, sha384, sha512...)")
	fl.StringVar(&f.subject.CN, "cn", "", "subject common name")
	fl.StringVar(&f.subject.O, "org", "", "subject organization")
	fl.StringVar(&f.subject.OU, "org-unit", "", "subject organizational unit")
	fl.StringVar(&f.subject.C, "country", "", "subject two letter country code")
	fl.StringVar(&f.subject.ST, "state", "", "subject state or province")
	fl.StringVar(&f.subject.L, "locality", "", "subject locality")
	fl.StringSliceVar(&f.sans, "san", nil, "subject alternative name, repeatable")
	if withDays {
		fl.StringVar(&f.days, "days", "", "validity in days for a self-signed certificate")
	}
}

func (f *requestFlags) request() certmgr.CertificateRequest {
	return certmgr.CertificateRequest{
		Type:            f.certType,
		NewCSR:          f.newCSR,
		KeySize:         f.keySize,
		Digest:          f.digest,
		ValidityDays:    f.days,
		Subject:         f.subject,
		SubjectAltNames: f.sans,
	}
}

func (c *cli) csrCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "csr", Short: "Generate or download certificate signing requests"}

	var target string
	var flags requestFlags
	generate := &cobra.Command{
		Use:   "generate",
		Short: "Generate a CSR on a server or on all servers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			api, err := c.client()
			if err != nil {
				return err
			}
			server, err := api.GenerateCSR(cmd.Context(), target, flags.request())
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "CSR generated on %s\n", server)
			return nil
		},
	}
	generate.Flags().StringVar(&target, "target", "", "server id or name, or all")
	_ = generate.MarkFlagRequired("target")
	generate.Flags().BoolVar(&flags.newCSR, "new", true, "generate a new private key with the CSR")
	flags.register(generate, false)

	var server, output string
	download := &cobra.Command{
		Use:   "download",
		Short: "Print or save the staged commercial CSR",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			api, err := c.client()
			if err != nil {
				return err
			}
			pem, err := api.DownloadCSR(cmd.Context(), server)
			if err != nil {
				return err
			}
			if output == "" {
				_, err = c.out.Write(pem)
				return err
			}
			if err := os.WriteFile(output, pem, 0o644); err != nil {
				return fmt.Errorf("%w: %v", certderrors.ErrIO, err)
			}
			fmt.Fprintf(c.out, "CSR written to %s\n", output)
			return nil
		},
	}
	download.Flags().StringVar(&server, "target", "", "server id or name, default the local server")
	download.Flags().StringVarP(&output, "output", "o", "", "write to file instead of stdout")

	cmd.AddCommand(generate, download)
	return cmd
}

func (c *cli) installCmd() *cobra.Command {
	var target, certFile, rootFile string
	var intermediates []string
	var skipCleanup bool
	var flags requestFlags
	cmd := &cobra.Command{
		Use:   "install",
		Short: "Install a self-signed or commercial certificate",
		Long: `Install a certificate on one server or on all servers.

A self-signed install creates and deploys a new certificate. A commercial
install uploads --cert, --root and every --intermediate, verifies them
against the staged private key and deploys them.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			api, err := c.client()
			if err != nil {
				return err
			}
			req := flags.request()
			req.SkipCleanup = skipCleanup
			var bundle *certmgr.UploadedCertBundle
			if t := strings.ToLower(flags.certType); t == "comm" || t == "commercial" {
				if certFile == "" || rootFile == "" {
					return certderrors.Invalid("cert", "", "--cert and --root are required for a commercial install")
				}
				bundle = &certmgr.UploadedCertBundle{}
				if bundle.Cert, err = c.uploadRef(cmd, certFile); err != nil {
					return err
				}
				if bundle.RootCA, err = c.uploadRef(cmd, rootFile); err != nil {
					return err
				}
				for _, path := range intermediates {
					ref, err := c.uploadRef(cmd, path)
					if err != nil {
						return err
					}
					bundle.IntermediateCAs = append(bundle.IntermediateCAs, *ref)
				}
			}
			server, err := api.InstallCertificate(cmd.Context(), target, req, bundle)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "Certificate installed on %s\n", server)
			return nil
		},
	}
	cmd.Flags().StringVar(&target, "target", "", "server id or name, or all")
	_ = cmd.MarkFlagRequired("target")
	flags.register(cmd, true)
	cmd.Flags().StringVar(&certFile, "cert", "", "commercial certificate PEM file")
	cmd.Flags().StringVar(&rootFile, "root", "", "root CA PEM file")
	cmd.Flags().StringSliceVar(&intermediates, "intermediate", nil, "intermediate CA PEM file, repeatable, issuer order")
	cmd.Flags().BoolVar(&skipCleanup, "skip-cleanup", false, "keep the server side working directory")
	return cmd
}

func (c *cli) uploadRef(cmd *cobra.Command, path string) (*certmgr.AttachmentRef, error) {
	api, err := c.client()
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, certderrors.Invalid("file", path, err.Error())
	}
	defer f.Close()
	up, err := api.Upload(cmd.Context(), filepath.Base(path), f)
	if err != nil {
		return nil, err
	}
	return &certmgr.AttachmentRef{AttachmentID: up.AttachmentID, Filename: up.Filename}, nil
}

func (c *cli) uploadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "upload FILE",
		Short: "Upload a file and print its attachment id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := c.uploadRef(cmd, args[0])
			if err != nil {
				return err
			}
			if c.asJSON {
				return c.printJSON(ref)
			}
			fmt.Fprintln(c.out, ref.AttachmentID)
			return nil
		},
	}
}

func (c *cli) certsCmd() *cobra.Command {
	var target, certType string
	var staged bool
	cmd := &cobra.Command{
		Use:   "certs",
		Short: "Show deployed or staged certificates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			api, err := c.client()
			if err != nil {
				return err
			}
			option := ""
			if staged {
				option = "staged"
			}
			report, err := api.GetCertificates(cmd.Context(), target, certType, option)
			if err != nil {
				return err
			}
			if c.asJSON {
				return c.printJSON(report)
			}
			tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SERVER\tTYPE\tSUBJECT\tNOT AFTER\tSANS")
			for _, md := range report.Certificates {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", md.Server, md.Type, md.Subject, md.NotAfter, strings.Join(md.SubjectAltNames, ","))
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			for _, f := range report.Failures {
				fmt.Fprintf(c.out, "warning: %s %s: %s\n", f.Server, f.Slot, f.Error)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&target, "target", "all", "server id or name, or all")
	cmd.Flags().StringVar(&certType, "type", "all", "slot (ldap, mailboxd, mta, proxy, all) or self/comm with --staged")
	cmd.Flags().BoolVar(&staged, "staged", false, "show the staged certificate instead of the deployed ones")
	return cmd
}

func (c *cli) domainCertCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "domain-cert DOMAIN",
		Short: "Show the certificate stored on a domain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := c.client()
			if err != nil {
				return err
			}
			md, err := api.GetDomainCertificate(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if c.asJSON {
				return c.printJSON(md)
			}
			fmt.Fprintf(c.out, "Domain:    %s\nSubject:   %s\nIssuer:    %s\nNotBefore: %s\nNotAfter:  %s\nSANs:      %s\n",
				md.Domain, md.Subject, md.Issuer, md.NotBefore, md.NotAfter, strings.Join(md.SubjectAltNames, ", "))
			return nil
		},
	}
}

func (c *cli) verifyCmd() *cobra.Command {
	var certFile, keyFile, chainFile string
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check that a certificate matches a private key and chain",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			certPEM, err := readFile("cert", certFile)
			if err != nil {
				return err
			}
			keyPEM, err := readFile("key", keyFile)
			if err != nil {
				return err
			}
			chainPEM, err := readFile("chain", chainFile)
			if err != nil {
				return err
			}
			api, err := c.client()
			if err != nil {
				return err
			}
			ok, err := api.VerifyCertKey(cmd.Context(), certPEM, keyPEM, chainPEM)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: certificate, key and chain do not match", certderrors.ErrVerification)
			}
			fmt.Fprintln(c.out, "Certificate, key and chain match")
			return nil
		},
	}
	cmd.Flags().StringVar(&certFile, "cert", "", "certificate PEM file")
	cmd.Flags().StringVar(&keyFile, "key", "", "private key PEM file")
	cmd.Flags().StringVar(&chainFile, "chain", "", "CA chain PEM file, default the certificate itself")
	_ = cmd.MarkFlagRequired("cert")
	_ = cmd.MarkFlagRequired("key")
	return cmd
}

// hashPasswordCmd prints a bcrypt hash for the accounts file.
func (c *cli) hashPasswordCmd() *cobra.Command {
	var cost int
	cmd := &cobra.Command{
		Use:   "hash-password",
		Short: "Print a bcrypt password_hash for the accounts file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			password, err := c.readLine("Password: ")
			if err != nil {
				return err
			}
			if password == "" {
				return certderrors.Invalid("password", "", "must not be empty")
			}
			hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
			if err != nil {
				return certderrors.Invalid("cost", fmt.Sprint(cost), err.Error())
			}
			fmt.Fprintln(c.out)
			fmt.Fprintln(c.out, string(hash))
			return nil
		},
	}
	cmd.Flags().IntVar(&cost, "cost", bcrypt.DefaultCost, "bcrypt cost")
	return cmd
}
