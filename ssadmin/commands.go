package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.dedis.ch/onet/v3/log"
	"gopkg.in/urfave/cli.v1"

	"go.dedis.ch/sealedsurvey/aggregate"
	"go.dedis.ch/sealedsurvey/httpapi"
	"go.dedis.ch/sealedsurvey/ledger"
	"go.dedis.ch/sealedsurvey/lib"
	"go.dedis.ch/sealedsurvey/oracle"
	"go.dedis.ch/sealedsurvey/verify"
)

var cmds = cli.Commands{
	{
		Name:  "setup",
		Usage: "create a new survey and its oracle keys",
		Flags: []cli.Flag{
			cli.StringFlag{
				Name:  "contract",
				Usage: "name of the contract the survey is bound to",
			},
			cli.StringFlag{
				Name:  "recipient, r",
				Usage: "identity of the survey creator",
			},
			cli.IntFlag{
				Name:  "threshold, t",
				Value: 2,
				Usage: "number of oracle shares needed to decrypt",
			},
			cli.IntFlag{
				Name:  "nodes, n",
				Value: 3,
				Usage: "number of oracle shares",
			},
			cli.StringFlag{
				Name:  "mode",
				Value: "ciphertext",
				Usage: "default accumulator: ciphertext or plaintext",
			},
			cli.StringFlag{
				Name:  "timeout",
				Value: "30s",
				Usage: "how long to wait for the oracle",
			},
			cli.StringFlag{
				Name:  "listen",
				Value: "localhost:7780",
				Usage: "address of the HTTP server",
			},
		},
		Action: setup,
	},
	{
		Name:      "submit",
		Usage:     "encrypt and submit a response",
		ArgsUsage: "name=value [name=value...]",
		Flags: []cli.Flag{
			cli.StringFlag{
				Name:  "category",
				Usage: "category of the response",
			},
		},
		Action: submit,
	},
	{
		Name:      "verify",
		Usage:     "decrypt a response through the oracle",
		ArgsUsage: "id",
		Action:    verifyResponse,
	},
	{
		Name:      "show",
		Usage:     "show one response",
		ArgsUsage: "id",
		Action:    show,
	},
	{
		Name:   "list",
		Usage:  "list all response ids",
		Action: list,
	},
	{
		Name:   "categories",
		Usage:  "list all categories",
		Action: categories,
	},
	{
		Name:      "stats",
		Usage:     "show the sums of a category",
		ArgsUsage: "category",
		Flags: []cli.Flag{
			cli.BoolFlag{
				Name:  "recompute",
				Usage: "aggregate the verified responses first",
			},
			cli.BoolFlag{
				Name:  "reveal",
				Usage: "decrypt the sums through the oracle",
			},
			cli.StringFlag{
				Name:  "mode",
				Usage: "fix the accumulator of the category before aggregating",
			},
		},
		Action: stats,
	},
	{
		Name:  "serve",
		Usage: "serve the survey over HTTP",
		Flags: []cli.Flag{
			cli.StringFlag{
				Name:  "listen",
				Usage: "address to listen on, overrides the config",
			},
		},
		Action: serve,
	},
}

func setup(c *cli.Context) error {
	dir := configDir(c)
	if _, err := os.Stat(filepath.Join(dir, surveyFile)); err == nil {
		return fmt.Errorf("there is already a survey in %s", dir)
	}
	if c.String("contract") == "" {
		return errors.New("--contract flag is required")
	}
	if _, err := aggregate.ParseMode(c.String("mode")); err != nil {
		return err
	}
	if _, err := time.ParseDuration(c.String("timeout")); err != nil {
		return fmt.Errorf("invalid timeout: %v", err)
	}
	s, err := oracle.NewSetup(c.Int("threshold"), c.Int("nodes"))
	if err != nil {
		return err
	}
	cid := lib.ContractIDFromString(c.String("contract"))
	cfg := &config{
		ContractID: hex.EncodeToString(cid[:]),
		Recipient:  c.String("recipient"),
		Threshold:  c.Int("threshold"),
		Nodes:      c.Int("nodes"),
		Timeout:    c.String("timeout"),
		Mode:       c.String("mode"),
		Listen:     c.String("listen"),
	}
	if err := saveConfig(dir, cfg, s); err != nil {
		return err
	}
	x, _ := s.Params().X.MarshalBinary()
	fmt.Fprintf(c.App.Writer, "Created survey in %s\nPublic key: %x\n", dir, x)
	return nil
}

// parseValues reads name=value pairs.
func parseValues(args []string) (map[string]int64, error) {
	if len(args) == 0 {
		return nil, errors.New("please give at least one name=value")
	}
	values := make(map[string]int64)
	for _, arg := range args {
		kv := strings.SplitN(arg, "=", 2)
		if len(kv) != 2 || kv[0] == "" {
			return nil, fmt.Errorf("'%s' is not of the form name=value", arg)
		}
		v, err := strconv.ParseInt(kv[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("value of %s: %v", kv[0], err)
		}
		values[kv[0]] = v
	}
	return values, nil
}

func submit(c *cli.Context) error {
	values, err := parseValues(c.Args())
	if err != nil {
		return err
	}
	s, err := openSurvey(configDir(c))
	if err != nil {
		return err
	}
	defer s.close()

	var names []string
	for n := range values {
		names = append(names, n)
	}
	sort.Strings(names)
	var fields []ledger.Field
	for _, n := range names {
		ct, proof, err := lib.EncryptAndProve(s.oracle.Params().X, s.ledger.Context(), values[n])
		if err != nil {
			return fmt.Errorf("field %s: %v", n, err)
		}
		fields = append(fields, ledger.Field{Name: n, Ciphertext: ct, Proof: proof})
	}
	id, err := s.ledger.Submit(c.String("category"), fields)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "Submitted response %d\n", id)
	return nil
}

func parseID(c *cli.Context) (uint64, error) {
	if c.NArg() != 1 {
		return 0, errors.New("please give the id of the response")
	}
	return strconv.ParseUint(c.Args().First(), 10, 64)
}

func printPlaintexts(c *cli.Context, ps map[string]int64) {
	var names []string
	for n := range ps {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		fmt.Fprintf(c.App.Writer, "  %s: %d\n", n, ps[n])
	}
}

func verifyResponse(c *cli.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	s, err := openSurvey(configDir(c))
	if err != nil {
		return err
	}
	defer s.close()

	res, err := s.protocol.RequestVerification(context.Background(), id)
	if err != nil {
		return err
	}
	if res.Outcome == verify.AlreadyVerified {
		fmt.Fprintf(c.App.Writer, "Response %d was already verified\n", id)
	} else {
		fmt.Fprintf(c.App.Writer, "Verified response %d\n", id)
	}
	printPlaintexts(c, res.Plaintexts)
	return nil
}

func show(c *cli.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	s, err := openSurvey(configDir(c))
	if err != nil {
		return err
	}
	defer s.close()

	v, err := s.query.Response(id)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "Response %d in %s, submitted %s\n", v.ID, v.Category,
		time.Unix(0, v.SubmittedAt).Format(time.RFC3339))
	var names []string
	for n := range v.Handles {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		fmt.Fprintf(c.App.Writer, "  %s: %s\n", n, v.Handles[n])
	}
	if v.Verified {
		fmt.Fprintln(c.App.Writer, "Verified:")
		printPlaintexts(c, v.Plaintexts)
	} else {
		fmt.Fprintln(c.App.Writer, "Not verified")
	}
	return nil
}

func list(c *cli.Context) error {
	s, err := openSurvey(configDir(c))
	if err != nil {
		return err
	}
	defer s.close()
	ids, err := s.query.ResponseIDs()
	if err != nil {
		return err
	}
	for _, id := range ids {
		fmt.Fprintln(c.App.Writer, id)
	}
	return nil
}

func categories(c *cli.Context) error {
	s, err := openSurvey(configDir(c))
	if err != nil {
		return err
	}
	defer s.close()
	cats, err := s.query.Categories()
	if err != nil {
		return err
	}
	for _, cat := range cats {
		fmt.Fprintln(c.App.Writer, cat)
	}
	return nil
}

func stats(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("please give the category")
	}
	category := c.Args().First()
	s, err := openSurvey(configDir(c))
	if err != nil {
		return err
	}
	defer s.close()

	if m := c.String("mode"); m != "" {
		mode, err := aggregate.ParseMode(m)
		if err != nil {
			return err
		}
		if err := s.aggregator.SetMode(category, mode); err != nil {
			return err
		}
	}
	var st *aggregate.Stats
	if c.Bool("recompute") {
		st, err = s.aggregator.Recompute(category)
	} else {
		st, err = s.query.Stats(category)
	}
	if err != nil {
		return err
	}
	if c.Bool("reveal") {
		st, err = s.aggregator.Reveal(context.Background(), category, s.protocol)
		if err != nil {
			return err
		}
	}
	fmt.Fprintf(c.App.Writer, "Category %s (%s): %d verified responses\n",
		st.Category, st.Mode, st.TotalResponses)
	for _, fs := range st.Sums {
		if fs.Revealed {
			fmt.Fprintf(c.App.Writer, "  %s: %d\n", fs.Name, fs.Total)
		} else {
			fmt.Fprintf(c.App.Writer, "  %s: encrypted %s\n", fs.Name, fs.Handle)
		}
	}
	return nil
}

func serve(c *cli.Context) error {
	s, err := openSurvey(configDir(c))
	if err != nil {
		return err
	}
	defer s.close()
	stop := s.aggregator.Watch()
	defer stop()

	addr := c.String("listen")
	if addr == "" {
		addr = s.cfg.Listen
	}
	srv := &http.Server{
		Addr:    addr,
		Handler: httpapi.New(s.ledger, s.protocol, s.aggregator, s.oracle.Params()).Handler(),
	}
	done := make(chan error, 1)
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		log.Lvl1("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		done <- srv.Shutdown(ctx)
	}()
	log.Lvl1("serving survey on", addr)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return <-done
}
