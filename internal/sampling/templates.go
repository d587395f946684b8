package sampling

import (
	"fmt"
	"strings"

	"github.com/dataset-commons/dataset-engine/internal/domain"
	"github.com/dataset-commons/dataset-engine/internal/validation"
)

// baseFrom is the commit_rows/rows join every round query starts from,
// already restricted to the target table and excluding rows claimed by an
// earlier round in this same job (SPEC_FULL §4.F's shared exclusion set).
const baseFrom = `
	FROM commit_rows cr
	JOIN rows r ON r.row_hash = cr.row_hash
	WHERE cr.commit_id = $1 AND cr.logical_row_id LIKE $2
	  AND NOT EXISTS (SELECT 1 FROM temp_sampling_exclusions e WHERE e.logical_row_id = cr.logical_row_id)`

// queryArgs accumulates positional args for a round query, starting after
// the two baseFrom placeholders ($1 commit id, $2 table-key prefix).
type queryArgs struct {
	args []any
}

func (q *queryArgs) add(v any) string {
	q.args = append(q.args, v)
	return fmt.Sprintf("$%d", len(q.args))
}

// buildRoundQuery renders the SELECT that CREATE TEMP TABLE temp_round_N_samples
// AS wraps, per the method-specific template in SPEC_FULL §4.F.1. It always
// returns cr.logical_row_id, cr.row_hash so the caller can both populate the
// exclusion table and copy the sample into the output commit.
func buildRoundQuery(round RoundConfig, schema domain.SchemaDefinition, commitID, tableKey string, estimatedRows int64, cfg Config) (sql string, args []any, err error) {
	qa := &queryArgs{args: []any{commitID, tableKey + ":%"}}

	filterClause, filterArgs, err := validation.BuildWhereClause(schema, tableKey, round.Filters, len(qa.args))
	for _, a := range filterArgs {
		qa.args = append(qa.args, a)
	}
	if err != nil {
		return "", nil, err
	}
	extraWhere := ""
	if filterClause != "" {
		extraWhere = " AND " + filterClause
	}

	switch round.Method {
	case MethodRandom:
		sql, err = buildRandomQuery(round, qa, extraWhere, estimatedRows, cfg)
	case MethodSystematic:
		sql, err = buildSystematicQuery(round, qa, extraWhere)
	case MethodCluster:
		sql, err = buildClusterQuery(round, qa, extraWhere)
	case MethodStratified:
		sql, err = buildStratifiedQuery(round, qa, extraWhere, cfg)
	default:
		return "", nil, fmt.Errorf("unknown sampling method %q", round.Method)
	}
	if err != nil {
		return "", nil, err
	}
	return sql, qa.args, nil
}

// buildRandomQuery implements the three random-sampling variants: plain
// RANDOM() when unseeded, exact md5-ranked ordering when seeded and the
// table is small enough to sort in full, and a hash-reject filter (scalable
// to tables the planner shouldn't fully sort) once estimatedRows exceeds
// cfg.CardinalityThreshold.
func buildRandomQuery(round RoundConfig, qa *queryArgs, extraWhere string, estimatedRows int64, cfg Config) (string, error) {
	p := round.Parameters
	if p.SampleSize <= 0 {
		return "", fmt.Errorf("random sampling requires a positive sample_size")
	}
	selectCols := "cr.logical_row_id, cr.row_hash"

	if p.Seed == nil {
		return fmt.Sprintf(`
			SELECT %s
			%s%s
			ORDER BY RANDOM()
			LIMIT %d`, selectCols, baseFrom, extraWhere, p.SampleSize), nil
	}

	if estimatedRows > 0 && estimatedRows > cfg.CardinalityThreshold {
		oversample := p.OversamplingFactor
		if oversample <= 0 {
			oversample = cfg.OversamplingFactor
		}
		// hash-reject-filter: keep a row when its deterministic hash, masked
		// to a non-negative 63-bit value, falls below a threshold sized so
		// that, in expectation, oversampling
		// factor times the desired count survive; ORDER BY+LIMIT trims the
		// rare overshoot without ever sorting the whole table.
		threshold := int64((float64(p.SampleSize) / float64(estimatedRows)) * oversample * (1 << 62) * 2)
		seedArg := qa.add(fmt.Sprintf("%d", *p.Seed))
		return fmt.Sprintf(`
			SELECT %s
			%s%s
			  AND (hashtextextended(cr.logical_row_id || %s, 0) & 9223372036854775807) < %d
			ORDER BY cr.logical_row_id
			LIMIT %d`, selectCols, baseFrom, extraWhere, seedArg, threshold, p.SampleSize), nil
	}

	seedArg := qa.add(fmt.Sprintf("%d", *p.Seed))
	return fmt.Sprintf(`
		SELECT %s
		%s%s
		ORDER BY md5(cr.logical_row_id || %s)
		LIMIT %d`, selectCols, baseFrom, extraWhere, seedArg, p.SampleSize), nil
}

// buildSystematicQuery selects every Nth row (by stable logical_row_id
// ordering) starting at an offset, via ROW_NUMBER() + modulo.
func buildSystematicQuery(round RoundConfig, qa *queryArgs, extraWhere string) (string, error) {
	p := round.Parameters
	if p.Interval <= 0 {
		return "", fmt.Errorf("systematic sampling requires a positive interval")
	}
	return fmt.Sprintf(`
		SELECT logical_row_id, row_hash FROM (
			SELECT cr.logical_row_id, cr.row_hash,
			       ROW_NUMBER() OVER (ORDER BY cr.logical_row_id) AS rn
			%s%s
		) numbered
		WHERE (rn - 1 - %d) %% %d = 0`, baseFrom, extraWhere, p.Start, p.Interval), nil
}

// buildClusterQuery selects whole clusters (hash-chosen for determinism
// under a seed) then applies the within-cluster fraction or fixed count.
func buildClusterQuery(round RoundConfig, qa *queryArgs, extraWhere string) (string, error) {
	p := round.Parameters
	if p.ClusterColumn == "" {
		return "", fmt.Errorf("cluster sampling requires cluster_column")
	}
	if err := validation.Identifier(p.ClusterColumn); err != nil {
		return "", err
	}
	if p.ClusterCount <= 0 {
		return "", fmt.Errorf("cluster sampling requires a positive cluster_count")
	}
	clusterExpr := fmt.Sprintf("(r.data->>%s)", quoteIdent(p.ClusterColumn))

	seed := int64(0)
	if p.Seed != nil {
		seed = *p.Seed
	}
	seedArg := qa.add(fmt.Sprintf("%d", seed))

	within := "TRUE"
	if p.FixedPerCluster > 0 {
		within = fmt.Sprintf("within_rn <= %d", p.FixedPerCluster)
	} else if p.Fraction > 0 {
		within = fmt.Sprintf("within_rn <= CEIL(cluster_size * %f)", p.Fraction)
	}

	return fmt.Sprintf(`
		WITH clusters AS (
			SELECT cluster_value FROM (
				SELECT DISTINCT %s AS cluster_value
				%s%s
			) distinct_clusters
			ORDER BY md5(cluster_value || %s)
			LIMIT %d
		), chosen AS (
			SELECT cr.logical_row_id, cr.row_hash, %s AS cluster_value,
			       ROW_NUMBER() OVER (PARTITION BY %s ORDER BY cr.logical_row_id) AS within_rn,
			       COUNT(*) OVER (PARTITION BY %s) AS cluster_size
			%s%s
			  AND %s IN (SELECT cluster_value FROM clusters)
		)
		SELECT logical_row_id, row_hash FROM chosen WHERE %s`,
		clusterExpr, baseFrom, extraWhere, seedArg, p.ClusterCount,
		clusterExpr, clusterExpr, clusterExpr,
		baseFrom, extraWhere, clusterExpr,
		within), nil
}

// buildStratifiedQuery allocates sample_size across strata either
// proportionally (size-weighted, floored at min_per_stratum) or with a
// fixed per-stratum count, then ranks within each stratum by a seeded hash.
func buildStratifiedQuery(round RoundConfig, qa *queryArgs, extraWhere string, cfg Config) (string, error) {
	p := round.Parameters
	if len(p.StrataColumns) == 0 {
		return "", fmt.Errorf("stratified sampling requires strata_columns")
	}
	for _, c := range p.StrataColumns {
		if err := validation.Identifier(c); err != nil {
			return "", err
		}
	}
	strataExprs := make([]string, len(p.StrataColumns))
	for i, c := range p.StrataColumns {
		strataExprs[i] = fmt.Sprintf("(r.data->>%s)", quoteIdent(c))
	}
	strataKey := strings.Join(strataExprs, " || '\x1f' || ")

	seed := int64(0)
	if p.Seed != nil {
		seed = *p.Seed
	}
	seedArg := qa.add(fmt.Sprintf("%d", seed))

	if p.Proportional {
		if p.SampleSize <= 0 {
			return "", fmt.Errorf("proportional stratified sampling requires a positive sample_size")
		}
		minPerStratum := p.MinPerStratum
		if minPerStratum <= 0 {
			minPerStratum = cfg.MinStratumSampleCount
		}
		return fmt.Sprintf(`
			WITH strata AS (
				SELECT %s AS stratum_key, COUNT(*) AS stratum_size
				%s%s
				GROUP BY %s
			), totals AS (
				SELECT SUM(stratum_size) AS total_size FROM strata
			), allocation AS (
				SELECT s.stratum_key, s.stratum_size,
				       GREATEST(%d, CEIL(s.stratum_size::numeric / t.total_size * %d)) AS quota
				FROM strata s CROSS JOIN totals t
			), ranked AS (
				SELECT cr.logical_row_id, cr.row_hash, %s AS stratum_key,
				       ROW_NUMBER() OVER (PARTITION BY %s ORDER BY md5(cr.logical_row_id || %s)) AS rn
				%s%s
			)
			SELECT ranked.logical_row_id, ranked.row_hash
			FROM ranked JOIN allocation ON allocation.stratum_key = ranked.stratum_key
			WHERE ranked.rn <= allocation.quota`,
			strataKey, baseFrom, extraWhere, strataKey,
			minPerStratum, p.SampleSize,
			strataKey, strataKey, seedArg,
			baseFrom, extraWhere), nil
	}

	if p.PerStratumCount <= 0 {
		return "", fmt.Errorf("disproportional stratified sampling requires a positive per_stratum_count")
	}
	return fmt.Sprintf(`
		WITH ranked AS (
			SELECT cr.logical_row_id, cr.row_hash, %s AS stratum_key,
			       ROW_NUMBER() OVER (PARTITION BY %s ORDER BY md5(cr.logical_row_id || %s)) AS rn
			%s%s
		)
		SELECT logical_row_id, row_hash FROM ranked WHERE rn <= %d`,
		strataKey, strataKey, seedArg, baseFrom, extraWhere, p.PerStratumCount), nil
}

func quoteIdent(name string) string {
	return "'" + strings.ReplaceAll(name, "'", "''") + "'"
}
