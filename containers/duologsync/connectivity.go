package main

import (
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/refractionPOINT/duologsync/config"
)

const (
	duoAPIPort  = "443"
	dialTimeout = 10 * time.Second
)

func newConnectivityCmd() *cobra.Command {
	var overrides []string
	cmd := &cobra.Command{
		Use:   "connectivity <config.yaml>",
		Short: "Check that the Duo API host and the transport host are reachable",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(args[0], overrides)
			if err != nil {
				return err
			}
			ok := checkHost(cfg.Host(), duoAPIPort, true, nil)

			t := cfg.Transport()
			switch t.Protocol {
			case config.ProtocolUDP:
				log("??    transport %q is UDP, nothing to connect to", t.Address())
			case config.ProtocolTCPSSL:
				roots, err := loadRoots(t.CertFilePath())
				if err != nil {
					log("!!    failed loading %q: %v", t.CertFilePath(), err)
					ok = false
				}
				ok = checkHost(t.Host, strconv.Itoa(t.Port), true, roots) && ok
			default:
				ok = checkHost(t.Host, strconv.Itoa(t.Port), false, nil) && ok
			}

			if !ok {
				return errors.New("connectivity check failed")
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&overrides, "set", nil, "override a config value, e.g. --set transport.port=6514")
	return cmd
}

// checkHost resolves host, connects to it and, with withTLS, checks its
// certificate against roots (the system pool when nil).
func checkHost(host string, port string, withTLS bool, roots *x509.CertPool) bool {
	recs, err := net.LookupIP(host)
	if err != nil {
		log("!!    failed looking up %q: %v", host, err)
		return false
	}
	if len(recs) == 0 {
		log("!!    no IPs for %q", host)
		return false
	}
	log("\nHOST %q: %v\n---------------------------------", host, recs)

	addr := net.JoinHostPort(host, port)
	if err := testTCPConnect(addr); err != nil {
		log("!!    failed TCP connect to %q: %v", addr, err)
		return false
	}
	log("OK    TCP connect to %q succeeded", addr)
	if !withTLS {
		return true
	}

	certs, err := testTLSConnect(addr, host, nil, false)
	if err != nil {
		log("!!    failed TLS connect to %q: %v", addr, err)
		return false
	}
	if len(certs) == 0 {
		log("!!    no TLS certificates for %q", addr)
		return false
	}
	fingerprint := sha256.Sum256(certs[0].Raw)
	log("OK    TLS certificate for %q: %s", addr, hex.EncodeToString(fingerprint[:]))

	if _, err := testTLSConnect(addr, host, roots, true); err != nil {
		log("!!    failed TLS verify %q: %v", addr, err)
		return false
	}
	log("OK    TLS connect to %q verified", addr)
	return true
}

func loadRoots(certFile string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(certFile)
	if err != nil {
		return nil, err
	}
	roots := x509.NewCertPool()
	if !roots.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no PEM certificates in %s", certFile)
	}
	return roots, nil
}

func testTCPConnect(addr string) error {
	c, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return err
	}
	defer c.Close()
	return nil
}

func testTLSConnect(addr string, serverName string, roots *x509.CertPool, isVerify bool) ([]*x509.Certificate, error) {
	c, err := tls.DialWithDialer(&net.Dialer{Timeout: dialTimeout}, "tcp", addr, &tls.Config{
		ServerName:         serverName,
		RootCAs:            roots,
		InsecureSkipVerify: !isVerify,
	})
	if err != nil {
		return nil, err
	}
	defer c.Close()
	return c.ConnectionState().PeerCertificates, nil
}
