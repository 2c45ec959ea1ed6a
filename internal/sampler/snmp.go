package sampler

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/gosnmp/gosnmp"

	"github.com/xtxerr/sensorlog/config"
	"github.com/xtxerr/sensorlog/internal/errors"
	"github.com/xtxerr/sensorlog/internal/storage/types"
)

// =============================================================================
// SNMP Configuration
// =============================================================================

// SNMPOID maps one OID to an entity.
type SNMPOID struct {
	OID     string
	Entity  types.EntityID
	Divisor float64 // 0 means 1
}

// SNMPConfig configures an SNMP sampler.
type SNMPConfig struct {
	Host string
	Port uint16
	OIDs []SNMPOID

	// v2c
	Community string

	// v3
	SecurityName  string
	SecurityLevel string
	AuthProtocol  string
	AuthPassword  string
	PrivProtocol  string
	PrivPassword  string
	ContextName   string

	// Timing
	Timeout time.Duration
	Retries int

	// Now overrides the clock. Used by tests.
	Now func() time.Time
}

// Validate checks the configuration for errors.
func (c *SNMPConfig) Validate() error {
	errs := errors.NewValidationErrors()
	if c.Host == "" {
		errs.AddMissing("sampler.snmp.host")
	}
	if len(c.OIDs) == 0 {
		errs.AddMissing("sampler.snmp.oids")
	}
	for i, o := range c.OIDs {
		if o.OID == "" {
			errs.AddMissing(fmt.Sprintf("sampler.snmp.oids[%d].oid", i))
		}
		if o.Entity <= 0 {
			errs.AddField(fmt.Sprintf("sampler.snmp.oids[%d].entity", i), "must be positive")
		}
	}

	isV3 := c.SecurityName != ""
	if !isV3 && c.Community == "" {
		errs.AddField("sampler.snmp.community", "SNMP v2c requires community string (refusing to use insecure default)")
	}
	return errs.Err()
}

// =============================================================================
// SNMP Sampler
// =============================================================================

// snmpClient is a connected SNMP session.
type snmpClient interface {
	Get(oids []string) (*gosnmp.SnmpPacket, error)
	Close() error
}

// SNMPSampler reads gauges from an SNMP agent with one GET per poll.
type SNMPSampler struct {
	cfg  SNMPConfig
	oids []string
	now  func() time.Time
	dial func(ctx context.Context, cfg *SNMPConfig) (snmpClient, error)
}

// NewSNMP creates an SNMP sampler.
func NewSNMP(cfg SNMPConfig) (*SNMPSampler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	oids := make([]string, len(cfg.OIDs))
	for i, o := range cfg.OIDs {
		oids[i] = normalizeOID(o.OID)
	}
	return &SNMPSampler{cfg: cfg, oids: oids, now: clock(cfg.Now), dial: dialSNMP}, nil
}

// Name describes the sampler for logs.
func (s *SNMPSampler) Name() string {
	return fmt.Sprintf("snmp %s", s.cfg.Host)
}

// Poll executes one SNMP GET for all configured OIDs.
func (s *SNMPSampler) Poll(ctx context.Context) (Batch, error) {
	ts := s.now().Unix()

	if err := checkContext(ctx); err != nil {
		return Batch{}, err
	}

	client, err := s.dial(ctx, &s.cfg)
	if err != nil {
		return Batch{}, errors.NewSampler(errors.ErrTransportOpen, "connect %s: %v", s.cfg.Host, err)
	}
	defer client.Close()

	// Check context before GET
	if err := checkContext(ctx); err != nil {
		return Batch{}, err
	}

	pdu, err := client.Get(s.oids)
	if err != nil {
		if isTimeoutError(err) {
			return Batch{}, errors.NewSampler(errors.ErrTimeout, "get: %v", err)
		}
		return Batch{}, errors.NewSampler(errors.ErrTransportRead, "get: %v", err)
	}

	byOID := make(map[string]gosnmp.SnmpPDU, len(pdu.Variables))
	for _, v := range pdu.Variables {
		byOID[normalizeOID(v.Name)] = v
	}

	batch := Batch{Timestamp: ts, Readings: make([]Reading, len(s.oids))}
	for i, oid := range s.oids {
		variable, ok := byOID[oid]
		if !ok {
			return Batch{}, errors.NewSampler(errors.ErrMalformedResponse, "no variable returned for %s", oid)
		}
		value, err := pduValue(variable)
		if err != nil {
			return Batch{}, errors.NewSampler(errors.ErrMalformedResponse, "%s: %v", oid, err)
		}

		divisor := s.cfg.OIDs[i].Divisor
		if divisor == 0 {
			divisor = 1
		}
		batch.Readings[i] = Reading{Entity: s.cfg.OIDs[i].Entity, Value: value / divisor}
	}
	return batch, nil
}

// pduValue extracts a numeric value from a variable binding.
func pduValue(variable gosnmp.SnmpPDU) (float64, error) {
	switch variable.Type {
	case gosnmp.Integer, gosnmp.Counter32, gosnmp.Counter64, gosnmp.Gauge32,
		gosnmp.Uinteger32, gosnmp.TimeTicks:
		f, _ := new(big.Float).SetInt(gosnmp.ToBigInt(variable.Value)).Float64()
		return f, nil

	case gosnmp.OctetString:
		b, ok := variable.Value.([]byte)
		if !ok {
			return 0, fmt.Errorf("octet string of type %T", variable.Value)
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(string(b)), 64)
		if err != nil {
			return 0, fmt.Errorf("non-numeric octet string %q", b)
		}
		return f, nil

	case gosnmp.NoSuchObject, gosnmp.NoSuchInstance:
		return 0, fmt.Errorf("OID not found")

	default:
		return 0, fmt.Errorf("unsupported type: %v", variable.Type)
	}
}

func normalizeOID(oid string) string {
	return "." + strings.TrimPrefix(strings.TrimSpace(oid), ".")
}

// =============================================================================
// SNMP Client Creation
// =============================================================================

type goSNMPClient struct {
	*gosnmp.GoSNMP
}

func (c goSNMPClient) Close() error {
	return c.Conn.Close()
}

func dialSNMP(ctx context.Context, cfg *SNMPConfig) (snmpClient, error) {
	snmp := createClient(cfg)
	snmp.Context = ctx
	if err := snmp.Connect(); err != nil {
		return nil, err
	}
	return goSNMPClient{snmp}, nil
}

func createClient(cfg *SNMPConfig) *gosnmp.GoSNMP {
	port := cfg.Port
	if port == 0 {
		port = config.DefaultSNMPPort
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = config.DefaultSNMPTimeout
	}

	retries := cfg.Retries
	if retries == 0 {
		retries = config.DefaultSNMPRetries
	}

	snmp := &gosnmp.GoSNMP{
		Target:  cfg.Host,
		Port:    port,
		Timeout: timeout,
		Retries: retries,
		MaxOids: gosnmp.MaxOids,
	}

	// Configure version based on presence of security name
	if cfg.SecurityName != "" {
		snmp.Version = gosnmp.Version3
		snmp.SecurityModel = gosnmp.UserSecurityModel
		snmp.MsgFlags = msgFlags(cfg.SecurityLevel)
		snmp.SecurityParameters = &gosnmp.UsmSecurityParameters{
			UserName:                 cfg.SecurityName,
			AuthenticationProtocol:   authProtocol(cfg.AuthProtocol),
			AuthenticationPassphrase: cfg.AuthPassword,
			PrivacyProtocol:          privProtocol(cfg.PrivProtocol),
			PrivacyPassphrase:        cfg.PrivPassword,
		}
		if cfg.ContextName != "" {
			snmp.ContextName = cfg.ContextName
		}
	} else {
		snmp.Version = gosnmp.Version2c
		snmp.Community = cfg.Community
	}

	return snmp
}

// =============================================================================
// SNMPv3 Protocol Helpers
// =============================================================================

func msgFlags(level string) gosnmp.SnmpV3MsgFlags {
	switch level {
	case "authNoPriv":
		return gosnmp.AuthNoPriv
	case "authPriv":
		return gosnmp.AuthPriv
	default:
		return gosnmp.NoAuthNoPriv
	}
}

func authProtocol(protocol string) gosnmp.SnmpV3AuthProtocol {
	switch protocol {
	case "MD5":
		return gosnmp.MD5
	case "SHA":
		return gosnmp.SHA
	case "SHA224":
		return gosnmp.SHA224
	case "SHA256":
		return gosnmp.SHA256
	case "SHA384":
		return gosnmp.SHA384
	case "SHA512":
		return gosnmp.SHA512
	default:
		return gosnmp.NoAuth
	}
}

func privProtocol(protocol string) gosnmp.SnmpV3PrivProtocol {
	switch protocol {
	case "DES":
		return gosnmp.DES
	case "AES":
		return gosnmp.AES
	case "AES192":
		return gosnmp.AES192
	case "AES256":
		return gosnmp.AES256
	default:
		return gosnmp.NoPriv
	}
}
