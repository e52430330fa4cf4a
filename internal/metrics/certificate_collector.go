package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"certd/internal/certs"
	"certd/internal/directory"
	"certd/internal/logger"
	"certd/internal/vault"
)

const defaultExpirySoonWindowDays int = 30

var (
	certificatesLastFetchDesc = prometheus.NewDesc("certd_domain_certificates_last_fetch_timestamp_seconds", "Timestamp of last successful domain certificates fetch", nil, nil)
	certificatesTotalDesc     = prometheus.NewDesc("certd_domain_certificates_total", "Domain certificates grouped by status", []string{"status"}, nil)
	expiredCountDesc          = prometheus.NewDesc("certd_domain_certificates_expired_count", "Number of expired domain certificates", nil, nil)
	expiresInDesc             = prometheus.NewDesc("certd_domain_certificate_expires_in_seconds", "Seconds until domain certificate expiration (zero when expired)", []string{"domain", "serial_number", "common_name"}, nil)
	expiresSoonCountDesc      = prometheus.NewDesc("certd_domain_certificates_expires_soon_count", "Number of domain certificates expiring within threshold window", nil, nil)
	expiresSoonDesc           = prometheus.NewDesc("certd_domain_certificate_expires_soon", "Domain certificate expires within threshold window (1=true,0=false)", []string{"domain", "serial_number", "common_name"}, nil)
	expiryTimestampDesc       = prometheus.NewDesc("certd_domain_certificate_expiry_timestamp_seconds", "Domain certificate expiration timestamp in seconds since epoch", []string{"domain", "serial_number", "common_name"}, nil)
	lastScrapeSuccessDesc     = prometheus.NewDesc("certd_certificate_exporter_last_scrape_success", "Whether the last scrape succeeded (1) or failed (0)", nil, nil)
	vaultConnectedDesc        = prometheus.NewDesc("certd_vault_connected", "Vault connection status (1=connected,0=disconnected)", nil, nil)
)

type certificateCollector struct {
	store            directory.Store
	vaultClient      vault.Client
	expirySoonWindow time.Duration
	now              func() time.Time
}

// NewCertificateCollector returns a Prometheus collector exposing the expiry
// of certificates stored on domains. windowDays <= 0 selects 30 days.
func NewCertificateCollector(store directory.Store, vaultClient vault.Client, windowDays int) prometheus.Collector {
	if windowDays <= 0 {
		windowDays = defaultExpirySoonWindowDays
	}
	return &certificateCollector{
		store:            store,
		vaultClient:      vaultClient,
		expirySoonWindow: time.Duration(windowDays) * 24 * time.Hour,
		now:              time.Now,
	}
}

func (collector *certificateCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- certificatesLastFetchDesc
	ch <- certificatesTotalDesc
	ch <- expiredCountDesc
	ch <- expiresInDesc
	ch <- expiresSoonCountDesc
	ch <- expiresSoonDesc
	ch <- expiryTimestampDesc
	ch <- lastScrapeSuccessDesc
	ch <- vaultConnectedDesc
}

func (collector *certificateCollector) Collect(ch chan<- prometheus.Metric) {
	ctx := context.Background()
	expiries, unreadable, err := collector.listExpiries(ctx)
	if err != nil {
		logger.Get().Warn().Err(err).Msg("domain certificate scrape failed")
		ch <- prometheus.MustNewConstMetric(lastScrapeSuccessDesc, prometheus.GaugeValue, 0)
		return
	}
	ch <- prometheus.MustNewConstMetric(lastScrapeSuccessDesc, prometheus.GaugeValue, 1)
	now := collector.now()

	vaultConnected := 1.0
	if err := collector.vaultClient.CheckConnection(ctx); err != nil {
		vaultConnected = 0.0
	}

	ch <- prometheus.MustNewConstMetric(certificatesLastFetchDesc, prometheus.GaugeValue, float64(now.Unix()))
	ch <- prometheus.MustNewConstMetric(certificatesTotalDesc, prometheus.GaugeValue, float64(len(expiries)), "valid")
	ch <- prometheus.MustNewConstMetric(certificatesTotalDesc, prometheus.GaugeValue, float64(unreadable), "unreadable")
	ch <- prometheus.MustNewConstMetric(expiredCountDesc, prometheus.GaugeValue, float64(collector.countExpired(expiries, now)))
	ch <- prometheus.MustNewConstMetric(expiresSoonCountDesc, prometheus.GaugeValue, float64(collector.countExpiresSoon(expiries, now)))
	ch <- prometheus.MustNewConstMetric(vaultConnectedDesc, prometheus.GaugeValue, vaultConnected)
	collector.emitCertificateMetrics(ch, expiries, now)
}

// listExpiries reads the leaf of every domain that stores a certificate.
// Domains whose certificate cannot be parsed are counted, not reported.
func (collector *certificateCollector) listExpiries(ctx context.Context) ([]certs.Expiry, int, error) {
	domains, err := collector.store.ListDomains(ctx)
	if err != nil {
		return nil, 0, err
	}
	expiries := make([]certs.Expiry, 0, len(domains))
	unreadable := 0
	for _, domain := range domains {
		chain := domain.Attr(directory.AttrSSLCertificate)
		if chain == "" {
			continue
		}
		cert, err := certs.ParseLeaf(chain)
		if err != nil {
			logger.Get().Debug().Str("domain", domain.Name).Err(err).Msg("skipping unreadable domain certificate")
			unreadable++
			continue
		}
		md := certs.FromX509(cert)
		expiries = append(expiries, certs.Expiry{
			Domain:     domain.Name,
			CommonName: cert.Subject.CommonName,
			Serial:     md.SerialNumber,
			ExpiresAt:  cert.NotAfter,
		})
	}
	return expiries, unreadable, nil
}

func (collector *certificateCollector) countExpired(expiries []certs.Expiry, now time.Time) int {
	count := 0
	for _, expiry := range expiries {
		if expiry.ExpiresAt.Before(now) {
			count++
		}
	}
	return count
}

func (collector *certificateCollector) countExpiresSoon(expiries []certs.Expiry, now time.Time) int {
	count := 0
	for _, expiry := range expiries {
		if collector.expiresSoonValue(expiry, now) == 1 {
			count++
		}
	}
	return count
}

func (collector *certificateCollector) emitCertificateMetrics(ch chan<- prometheus.Metric, expiries []certs.Expiry, now time.Time) {
	for _, expiry := range expiries {
		secondsToExpiry := expiry.ExpiresAt.Sub(now).Seconds()
		if secondsToExpiry < 0 {
			secondsToExpiry = 0
		}
		ch <- prometheus.MustNewConstMetric(expiryTimestampDesc, prometheus.GaugeValue, float64(expiry.ExpiresAt.Unix()), expiry.Domain, expiry.Serial, expiry.CommonName)
		ch <- prometheus.MustNewConstMetric(expiresInDesc, prometheus.GaugeValue, secondsToExpiry, expiry.Domain, expiry.Serial, expiry.CommonName)
		ch <- prometheus.MustNewConstMetric(expiresSoonDesc, prometheus.GaugeValue, collector.expiresSoonValue(expiry, now), expiry.Domain, expiry.Serial, expiry.CommonName)
	}
}

func (collector *certificateCollector) expiresSoonValue(expiry certs.Expiry, now time.Time) float64 {
	if expiry.ExpiresAt.Before(now) {
		return 0
	}
	if expiry.ExpiresAt.Sub(now) <= collector.expirySoonWindow {
		return 1
	}
	return 0
}
