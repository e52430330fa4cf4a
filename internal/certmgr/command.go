package certmgr

import (
	"certd/internal/validation"
)

const allServerFlag = "-allserver"

// commandBuilder produces argv for the certificate tool. Values reach the
// tool as separate arguments and are never joined into a shell string here.
type commandBuilder struct {
	tool string
}

func (b commandBuilder) argv(args ...string) []string {
	return append([]string{b.tool}, args...)
}

func withAllServer(argv []string, all bool) []string {
	if all {
		return append(argv, allServerFlag)
	}
	return argv
}

// createCSR validates req and builds
// createcsr {self|comm} [-new -keysize N] [-digest ALG] [-subject S] [-subjectAltNames H] [-allserver].
func (b commandBuilder) createCSR(req CertificateRequest, all bool) ([]string, error) {
	certType, err := ParseCertType(req.Type)
	if err != nil {
		return nil, err
	}
	argv := b.argv("createcsr", string(certType))
	if req.KeySize != "" {
		if err := validation.ValidateKeySize(req.KeySize); err != nil {
			return nil, err
		}
		argv = append(argv, "-new", "-keysize", req.KeySize)
	}
	if req.Digest != "" {
		if err := validation.ValidateDigest(req.Digest); err != nil {
			return nil, err
		}
		argv = append(argv, "-digest", req.Digest)
	}
	argv, err = appendIdentity(argv, req)
	if err != nil {
		return nil, err
	}
	return withAllServer(argv, all), nil
}

// createCrt validates a self-signed request and builds
// createcrt -new [-days N] [-digest ALG] [-keysize N] [-subject S] [-subjectAltNames H] [-allserver].
func (b commandBuilder) createCrt(req CertificateRequest, all bool) ([]string, error) {
	argv := b.argv("createcrt", "-new")
	if req.ValidityDays != "" {
		if err := validation.ValidateValidityDays(req.ValidityDays); err != nil {
			return nil, err
		}
		argv = append(argv, "-days", req.ValidityDays)
	}
	if req.Digest != "" {
		if err := validation.ValidateDigest(req.Digest); err != nil {
			return nil, err
		}
		argv = append(argv, "-digest", req.Digest)
	}
	if req.KeySize != "" {
		if err := validation.ValidateKeySize(req.KeySize); err != nil {
			return nil, err
		}
		argv = append(argv, "-keysize", req.KeySize)
	}
	argv, err := appendIdentity(argv, req)
	if err != nil {
		return nil, err
	}
	return withAllServer(argv, all), nil
}

func appendIdentity(argv []string, req CertificateRequest) ([]string, error) {
	subject, err := BuildSubject(req.Subject)
	if err != nil {
		return nil, err
	}
	if subject != "" {
		argv = append(argv, "-subject", subject)
	}
	sans, err := BuildSubjectAltNames(req.SubjectAltNames)
	if err != nil {
		return nil, err
	}
	if sans != "" {
		argv = append(argv, "-subjectAltNames", sans)
	}
	return argv, nil
}

// deployCrt builds deploycrt {self|comm} [certPath chainPath] [-allserver].
func (b commandBuilder) deployCrt(certType CertType, certPath, chainPath string, all bool) []string {
	argv := b.argv("deploycrt", string(certType))
	if certType == CertTypeComm {
		argv = append(argv, certPath, chainPath)
	}
	return withAllServer(argv, all)
}

func (b commandBuilder) verifyCrtChain(chainPath, certPath string) []string {
	return b.argv("verifycrtchain", chainPath, certPath)
}

func (b commandBuilder) verifyCrtKey(keyPath, certPath string) []string {
	return b.argv("verifycrtkey", keyPath, certPath)
}

func (b commandBuilder) verifyCrt(keyPath, certPath, caPath string) []string {
	return b.argv("verifycrt", string(CertTypeComm), keyPath, certPath, caPath)
}

func (b commandBuilder) viewDeployedCrt(slot string) []string {
	return b.argv("viewdeployedcrt", slot)
}

func (b commandBuilder) viewStagedCrt(certType CertType) []string {
	return b.argv("viewstagedcrt", string(certType))
}

func (b commandBuilder) viewCSR(certType CertType) []string {
	return b.argv("viewcsr", string(certType))
}
