package config

import (
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Typed env helpers. Each only touches dst when the variable is set and
// non-empty; an unparsable value is logged and ignored.

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("WARN: Invalid integer for %s (%q), keeping %d", key, v, *dst)
		return
	}
	*dst = n
}

func setBool(dst *bool, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("WARN: Invalid boolean for %s (%q), keeping %t", key, v, *dst)
		return
	}
	*dst = b
}

func setDecimal(dst *decimal.Decimal, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	d, err := decimal.NewFromString(strings.TrimSpace(v))
	if err != nil {
		log.Printf("WARN: Invalid number for %s (%q), keeping %s", key, v, dst.String())
		return
	}
	*dst = d
}

func setStringSlice(dst *[]string, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) > 0 {
		*dst = out
	}
}
