// Package cli implements the iceagentd command line interface.
package cli

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/pprof"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/gortc/iceagentd/internal/auth"
	"github.com/gortc/iceagentd/internal/filter"
	"github.com/gortc/iceagentd/internal/manage"
	"github.com/gortc/iceagentd/internal/metrics"
	"github.com/gortc/iceagentd/internal/reload"
	"github.com/gortc/iceagentd/internal/server"
)

type staticCredElem struct {
	Realm string `mapstructure:"realm"`
	Peer  string `mapstructure:"peer"`
}

func parseFilteringRules(v *viper.Viper, parentLogger *zap.Logger, key string) (*filter.List, error) {
	l := parentLogger.Named(key)
	type rawRuleItem struct {
		Net    string `mapstructure:"net"`
		Action string `mapstructure:"action"`
	}
	var rawRules []rawRuleItem
	if keyErr := v.UnmarshalKey("filter."+key+".rules", &rawRules); keyErr != nil {
		l.Error("failed to parse rules", zap.Error(keyErr))
		return nil, keyErr
	}
	var rules []filter.Rule
	for _, rawRule := range rawRules {
		var action filter.Action
		switch strings.ToLower(rawRule.Action) {
		case "allow":
			action = filter.Allow
		case "drop", "forbid", "deny", "block":
			action = filter.Deny
		case "pass", "none", "":
			action = filter.Pass
		default:
			l.Error("failed to parse action", zap.String("action", rawRule.Action))
			return nil, fmt.Errorf("unknown action %s", rawRule.Action)
		}
		rule, ruleErr := filter.StaticNetRule(action, rawRule.Net)
		if ruleErr != nil {
			l.Error("failed to parse subnet", zap.Error(ruleErr), zap.String("net", rawRule.Net))
			return nil, ruleErr
		}
		l.Info("added rule", zap.Stringer("action", action), zap.String("net", rawRule.Net))
		rules = append(rules, rule)
	}
	defaultAction := filter.Allow
	switch strings.ToLower(v.GetString("filter." + key + ".action")) {
	case "allow", "":
		// Same as default.
	case "drop", "forbid", "deny", "block":
		defaultAction = filter.Deny
	case "pass", "none":
		return nil, errors.New("default action cannot be pass")
	default:
		return nil, errors.New("unknown default action")
	}
	l.Info("default action set", zap.Stringer("action", defaultAction))
	return filter.NewFilter(defaultAction, rules...), nil
}

const keyPrometheusActive = "server.prometheus.active"

func parseStaticCredentials(v *viper.Viper, l *zap.Logger, realm string) []auth.PeerCredential {
	var rawCredentials []staticCredElem
	if keyErr := v.UnmarshalKey("auth.static", &rawCredentials); keyErr != nil {
		l.Error("failed to parse auth.static config", zap.Error(keyErr))
		return nil
	}
	credentials := make([]auth.PeerCredential, 0, len(rawCredentials))
	for _, cred := range rawCredentials {
		if cred.Realm == "" {
			cred.Realm = realm
		}
		credentials = append(credentials, auth.PeerCredential{
			Realm:    cred.Realm,
			PeerName: cred.Peer,
		})
	}
	return credentials
}

func parseOptions(v *viper.Viper, l *zap.Logger, reg *prometheus.Registry) (server.Options, error) {
	o := server.Options{
		Log:                  l,
		ListenAddr:           v.GetString("ice.listen"),
		ReusePort:            v.GetBool("server.reuseport"),
		StunServer:           v.GetString("ice.stun-server"),
		StunServerPort:       v.GetInt("ice.stun-port"),
		ControllingMode:      v.GetBool("ice.controlling"),
		FullMode:             v.GetBool("ice.full"),
		TimerTaMs:            uint32(v.GetInt("ice.ta-ms")),
		NominationAggressive: v.GetBool("ice.nomination-aggressive"),
		Workers:              v.GetInt("server.workers"),
	}
	if keepalive := v.GetString("ice.keepalive"); keepalive != "" {
		d, err := time.ParseDuration(keepalive)
		if err != nil {
			return o, fmt.Errorf("parse ice.keepalive: %w", err)
		}
		o.KeepaliveInterval = d
	}

	realm := v.GetString("server.realm")
	if v.GetBool("auth.public") {
		l.Warn("auth is public, every peer is authorized")
	} else {
		o.Auth = auth.NewStatic(parseStaticCredentials(v, l, realm))
	}

	var parseErr error
	if o.PeerRule, parseErr = parseFilteringRules(v, l.Named("filter"), "peer"); parseErr != nil {
		return o, parseErr
	}
	if o.ClientRule, parseErr = parseFilteringRules(v, l.Named("filter"), "client"); parseErr != nil {
		return o, parseErr
	}

	if v.GetBool(keyPrometheusActive) {
		o.Metrics = metrics.NewProm(prometheus.Labels{"realm": realm})
		if promColl, ok := o.Metrics.(prometheus.Collector); ok {
			if err := reg.Register(promColl); err != nil {
				l.Warn("failed to register metrics", zap.Error(err))
			}
		}
	} else {
		o.Metrics = metrics.NewNoop()
	}

	return o, nil
}

func serveHTTP(l *zap.Logger, name, addr string, h http.Handler) {
	if addr == "" {
		return
	}
	l.Warn("running "+name, zap.String("addr", addr))
	go func() {
		if err := http.ListenAndServe(addr, h); err != nil {
			l.Error(name+" failed to listen", zap.String("addr", addr), zap.Error(err))
		}
	}()
}

func pprofHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	return mux
}

// runServer builds a server.Updater from v and starts the daemon's
// ambient HTTP endpoints (prometheus, pprof, management API), mirroring
// the teacher's runRoot/getListeners split but around one long-lived
// ice.Agent rather than one listener per configured address: an ICE
// agent gathers its own host candidate sockets, so there is no single
// server port to bind per listen entry.
func runServer(v *viper.Viper, l *zap.Logger) (*server.Server, *server.Updater, error) {
	if cfgPath := v.ConfigFileUsed(); len(cfgPath) > 0 {
		l.Info("config file used", zap.String("path", cfgPath))
	} else {
		l.Info("default configuration used")
	}
	if strings.Split(v.GetString("version"), ".")[0] != "1" {
		return nil, nil, fmt.Errorf("unsupported config file version %q", v.GetString("version"))
	}

	reg := prometheus.NewPedanticRegistry()
	serveHTTP(l, "prometheus metrics", v.GetString("server.prometheus.addr"),
		promhttp.HandlerFor(reg, promhttp.HandlerOpts{ErrorLog: zap.NewStdLog(l), ErrorHandling: promhttp.HTTPErrorOnError}))
	serveHTTP(l, "pprof", v.GetString("server.pprof"), pprofHandler())

	o, err := parseOptions(v, l, reg)
	if err != nil {
		return nil, nil, err
	}

	s, err := server.New(o)
	if err != nil {
		return nil, nil, err
	}
	u := server.NewUpdater(o)
	u.Subscribe(s)

	n := reload.NewNotifier(l.Named("reload"))
	go func() {
		for range n.C {
			l.Info("trying to update config")
			if readErr := v.ReadInConfig(); readErr != nil {
				l.Error("failed to read config", zap.Error(readErr))
				continue
			}
			newOptions, parseErr := parseOptions(v, l, reg)
			if parseErr != nil {
				l.Error("failed to parse config", zap.Error(parseErr))
				continue
			}
			u.Set(newOptions)
			l.Info("config updated")
		}
	}()

	if apiAddr := v.GetString("api.addr"); apiAddr != "" {
		m := manage.NewManager(l.Named("api"), n)
		serveHTTP(l, "management API", apiAddr, m)
	}

	return s, u, nil
}

func runRoot(v *viper.Viper) {
	l := getLogger(v)
	s, _, err := runServer(v, l)
	if err != nil {
		l.Fatal("failed to start", zap.Error(err))
	}
	defer func() {
		if closeErr := s.Close(); closeErr != nil {
			l.Error("failed to close", zap.Error(closeErr))
		}
	}()
	select {}
}

func getRoot(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:              "iceagentd",
		Short:            "iceagentd is an ICE connectivity establishment agent",
		PersistentPreRun: func(cmd *cobra.Command, args []string) { initConfig(v) },
		Run:              func(cmd *cobra.Command, args []string) { runRoot(v) },
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is iceagentd.yml in ., /etc/iceagentd/ or $HOME)")
	cmd.Flags().String("pprof", "", "pprof address if specified")

	mustBind(v.BindPFlag("server.pprof", cmd.Flags().Lookup("pprof")))

	cmd.AddCommand(getReloadCmd(v))
	cmd.AddCommand(getKeyCmd())

	return cmd
}
