// Package discovery implements the Discovery Pipeline (spec component
// 4.D): three sequential phases — platform inventory, code inspection,
// cross-validation — grounded 1:1 on original_source/discover.py.
package discovery

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/cortexhq/cortex/internal/codehost"
	"github.com/cortexhq/cortex/internal/knowledge"
	"github.com/cortexhq/cortex/internal/model"
	"github.com/cortexhq/cortex/internal/platform"
)

// keyFiles is the capped set of configuration files Phase 2 fetches when
// present in a repo's tree, ordered as in original_source/discover.py.
var keyFiles = []string{
	"Dockerfile",
	"docker-compose.yml",
	"composer.json",
	"package.json",
	"requirements.txt",
	"manage.py",
	"artisan",
	"next.config.js",
	"nuxt.config.js",
	"config/database.php",
	"config/queue.php",
	"config/cache.php",
	".env.example",
	"routes/web.php",
	"routes/api.php",
	"README.md",
	"Procfile",
	"railway.json",
	"railway.toml",
	"wsgi.py",
}

const maxKeyFiles = 20

// Pipeline runs the three discovery phases against a Platform Adapter and
// an optional Code Host Adapter, writing everything into a Knowledge Store.
type Pipeline struct {
	store    *knowledge.Store
	platform platform.Adapter
	codehost codehost.Adapter // nil when no code host token is configured

	projectID     string
	environmentID string
	codeConcurrency int
}

// New builds a Pipeline. codehostAdapter may be nil, in which case Phase 2
// is skipped entirely (graceful degradation per spec §7).
func New(store *knowledge.Store, platformAdapter platform.Adapter, codehostAdapter codehost.Adapter, projectID, environmentID string) *Pipeline {
	return &Pipeline{
		store:           store,
		platform:        platformAdapter,
		codehost:        codehostAdapter,
		projectID:       projectID,
		environmentID:   environmentID,
		codeConcurrency: 4,
	}
}

// RunAll runs all three phases in order.
func (p *Pipeline) RunAll(ctx context.Context) error {
	log.Info().Msg("discovery: starting full run")

	p.store.ClearFlags("")

	if err := p.phase1Platform(ctx); err != nil {
		return fmt.Errorf("phase 1 (platform inventory): %w", err)
	}
	if err := p.phase2Code(ctx); err != nil {
		return fmt.Errorf("phase 2 (code inspection): %w", err)
	}
	p.phase3CrossValidate()

	log.Info().Msg("discovery: full run complete")
	return nil
}

// --- Phase 1 ------------------------------------------------------------

func (p *Pipeline) phase1Platform(ctx context.Context) error {
	records, err := p.platform.GetServices(ctx, p.projectID)
	if err != nil {
		log.Error().Err(err).Msg("discovery phase 1: get_services failed")
		return nil // degrade: no services this run is not fatal
	}

	for _, rec := range records {
		typ := classifyType(rec.Name)
		stack := classifyStack(rec.Name, rec.StartCommand, rec.BuildCommand)
		role := classifyRole(typ, rec.Name)

		var healthURL string
		if len(rec.Domains) > 0 {
			healthURL = "https://" + rec.Domains[0] + "/health"
		}

		svc := model.Service{
			Name:          rec.Name,
			ServiceID:     rec.ID,
			EnvironmentID: p.environmentID,
			Type:          typ,
			Stack:         stack,
			Role:          role,
			RepoOwner:     rec.RepoOwner,
			RepoName:      rec.RepoName,
			RepoBranch:    "main",
			HealthURL:     healthURL,
		}
		p.store.UpsertService(svc)

		rawVars, err := p.platform.GetVariables(ctx, rec.ID, p.environmentID)
		if err != nil {
			log.Error().Err(err).Str("service", rec.Name).Msg("discovery phase 1: get_variables failed")
			rawVars = map[string]string{}
		}
		p.store.StoreVariables(rec.Name, rawVars)

		var deps []model.Dependency
		for key, value := range rawVars {
			if target, isRef := knowledge.ParseReference(value); isRef {
				deps = append(deps, model.Dependency{
					Service:   rec.Name,
					DependsOn: target,
					Type:      classifyDepType(key),
				})
				continue
			}
			if looksLikeHardcodedHost(key, value) {
				p.store.AddFlag(model.Flag{
					Service: rec.Name,
					Type:    model.FlagHardcodedDB,
					Message: fmt.Sprintf("%s appears to reference a database host directly instead of via a platform variable reference", key),
				})
			}
		}
		p.store.SetDependencies(rec.Name, deps)

		deploys, err := p.platform.GetRecentDeploys(ctx, rec.ID, p.environmentID, 10)
		if err != nil {
			log.Error().Err(err).Str("service", rec.Name).Msg("discovery phase 1: get_recent_deploys failed")
			deploys = nil
		}
		storeDeploys := make([]model.Deploy, 0, len(deploys))
		for _, d := range deploys {
			storeDeploys = append(storeDeploys, model.Deploy{
				Service:   rec.Name,
				ID:        d.ID,
				Status:    d.Status,
				CreatedAt: d.CreatedAt,
				Meta:      d.Meta,
			})
		}
		p.store.StoreDeploys(rec.Name, storeDeploys)
	}

	return nil
}

var hostKeyPattern = regexp.MustCompile(`(?i)_HOST$|DATABASE_URL|_DSN$`)

func looksLikeHardcodedHost(key, value string) bool {
	if !hostKeyPattern.MatchString(key) {
		return false
	}
	if strings.Contains(value, "${{") {
		return false
	}
	return strings.ContainsAny(value, ".:")
}

func classifyDepType(key string) model.DepType {
	k := strings.ToUpper(key)
	switch {
	case strings.Contains(k, "REDIS") || strings.Contains(k, "CACHE"):
		return model.DepCache
	case strings.Contains(k, "QUEUE") || strings.Contains(k, "AMQP") || strings.Contains(k, "SQS"):
		return model.DepQueue
	case strings.Contains(k, "DATABASE") || strings.Contains(k, "POSTGRES") || strings.Contains(k, "MYSQL") || strings.Contains(k, "DB_"):
		return model.DepDatabase
	case strings.Contains(k, "API") || strings.Contains(k, "URL"):
		return model.DepAPI
	default:
		return model.DepService
	}
}

func classifyType(name string) model.ServiceType {
	n := strings.ToLower(name)
	switch {
	case containsAny(n, "postgres", "mysql", "mongo", "mariadb"):
		return model.ServiceTypeDatabase
	case containsAny(n, "redis", "cache", "valkey"):
		return model.ServiceTypeCache
	case containsAny(n, "worker", "horizon", "queue", "celery"):
		return model.ServiceTypeWorker
	case containsAny(n, "cron", "scheduler"):
		return model.ServiceTypeScheduler
	default:
		return model.ServiceTypeApp
	}
}

func classifyStack(name, startCmd, buildCmd string) string {
	hay := strings.ToLower(name + " " + startCmd + " " + buildCmd)
	switch {
	case containsAny(hay, "artisan", "laravel"):
		return "laravel"
	case containsAny(hay, "manage.py", "django"):
		return "django"
	case containsAny(hay, "next.config", "nextjs", "next start"):
		return "nextjs"
	case containsAny(hay, "nuxt.config", "nuxt"):
		return "nuxt"
	case containsAny(hay, "composer.json", "php"):
		return "php"
	case containsAny(hay, "package.json", "node", "npm", "yarn", "pnpm"):
		return "node"
	case containsAny(hay, "requirements.txt", "python", "gunicorn", "uvicorn"):
		return "python"
	case containsAny(hay, "postgres"):
		return "postgres"
	case containsAny(hay, "redis"):
		return "redis"
	default:
		return "unknown"
	}
}

func classifyRole(typ model.ServiceType, name string) string {
	switch typ {
	case model.ServiceTypeDatabase:
		return "data store"
	case model.ServiceTypeCache:
		return "cache/queue backend"
	case model.ServiceTypeWorker:
		return "background worker"
	case model.ServiceTypeScheduler:
		return "scheduled job runner"
	default:
		return "application: " + name
	}
}

func containsAny(haystack string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

// --- Phase 2 --------------------------------------------------------------

func (p *Pipeline) phase2Code(ctx context.Context) error {
	if p.codehost == nil {
		log.Warn().Msg("discovery phase 2: no code host token configured, skipping code inspection")
		return nil
	}

	services := p.store.ListServices()

	type repoKey struct{ owner, name string }
	seen := map[repoKey][]model.Service{}
	for _, svc := range services {
		if !svc.HasRepo() {
			continue
		}
		k := repoKey{svc.RepoOwner, svc.RepoName}
		seen[k] = append(seen[k], svc)
	}

	repos := make([]repoKey, 0, len(seen))
	for k := range seen {
		repos = append(repos, k)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.codeConcurrency)

	for _, k := range repos {
		k := k
		svcs := seen[k]
		branch := "main"
		if len(svcs) > 0 && svcs[0].RepoBranch != "" {
			branch = svcs[0].RepoBranch
		}

		g.Go(func() error {
			p.inspectRepo(gctx, k.owner, k.name, branch, svcs)
			return nil
		})
	}

	return g.Wait()
}

func (p *Pipeline) inspectRepo(ctx context.Context, owner, name, branch string, services []model.Service) {
	tree, err := p.codehost.GetFileTree(ctx, owner, name, branch)
	if err != nil {
		log.Error().Err(err).Str("repo", name).Msg("discovery phase 2: get_file_tree failed")
		return
	}

	treePaths := make(map[string]bool, len(tree))
	for _, e := range tree {
		treePaths[e.Path] = true
	}

	framework, language, caps := analyzeTree(treePaths)

	var keyFilesToFetch []string
	for _, kf := range keyFiles {
		if treePaths[kf] {
			keyFilesToFetch = append(keyFilesToFetch, kf)
		}
		if len(keyFilesToFetch) >= maxKeyFiles {
			break
		}
	}

	var snapshots []model.FileSnapshot
	for _, path := range keyFilesToFetch {
		content, err := p.codehost.GetFileContent(ctx, owner, name, path, branch)
		if err != nil {
			continue
		}
		snapshots = append(snapshots, model.FileSnapshot{Path: path, Content: content, FetchedAt: time.Now()})
	}

	commits, err := p.codehost.GetRecentCommits(ctx, owner, name, branch, 10)
	if err != nil {
		log.Error().Err(err).Str("repo", name).Msg("discovery phase 2: get_recent_commits failed")
		commits = nil
	}
	storeCommits := make([]model.Commit, 0, len(commits))
	for _, c := range commits {
		storeCommits = append(storeCommits, model.Commit{SHA: c.SHA, Message: c.Message, Author: c.Author, Date: c.Date})
	}

	for _, svc := range services {
		svcFiles := make([]model.FileSnapshot, len(snapshots))
		for i, s := range snapshots {
			s.Service = svc.Name
			svcFiles[i] = s
		}
		p.store.StoreFiles(svc.Name, svcFiles)

		svcCommits := make([]model.Commit, len(storeCommits))
		for i, c := range storeCommits {
			c.Service = svc.Name
			svcCommits[i] = c
		}
		p.store.StoreCommits(svc.Name, svcCommits)

		p.store.StoreProjectInfo(model.ProjectInfo{
			Service:         svc.Name,
			Framework:       framework,
			Language:        language,
			HasTests:        caps["has_tests"],
			HasMigrations:   caps["has_migrations"],
			HasQueueWorkers: caps["has_queue_workers"],
		})
	}
}

func analyzeTree(paths map[string]bool) (framework, language string, caps map[string]bool) {
	caps = map[string]bool{}

	switch {
	case paths["artisan"]:
		framework, language = "laravel", "php"
	case paths["manage.py"]:
		framework, language = "django", "python"
	case paths["next.config.js"] || paths["next.config.ts"]:
		framework, language = "nextjs", "javascript"
	case paths["nuxt.config.js"] || paths["nuxt.config.ts"]:
		framework, language = "nuxt", "javascript"
	case paths["composer.json"]:
		framework, language = "php", "php"
	case paths["package.json"]:
		framework, language = "node", "javascript"
	case paths["requirements.txt"] || paths["pyproject.toml"]:
		framework, language = "python", "python"
	default:
		framework, language = "unknown", "unknown"
	}

	for path := range paths {
		lower := strings.ToLower(path)
		if strings.Contains(lower, "test") {
			caps["has_tests"] = true
		}
		if strings.Contains(lower, "migration") {
			caps["has_migrations"] = true
		}
		if strings.Contains(lower, "queue") || strings.Contains(lower, "worker") || strings.Contains(lower, "horizon") {
			caps["has_queue_workers"] = true
		}
	}
	return framework, language, caps
}

// --- Phase 3 --------------------------------------------------------------

// exemptVariables are excluded from the inconsistent_variable check because
// they are legitimately different per service/environment.
var exemptVariables = map[string]bool{
	"PORT":            true,
	"RAILWAY_SERVICE_ID": true,
	"RAILWAY_ENVIRONMENT_ID": true,
	"RAILWAY_PROJECT_ID": true,
	"RAILWAY_PUBLIC_DOMAIN": true,
	"RAILWAY_PRIVATE_DOMAIN": true,
}

func (p *Pipeline) phase3CrossValidate() {
	known := map[string]bool{}
	for _, svc := range p.store.ListServices() {
		known[svc.Name] = true
	}

	for _, svc := range p.store.ListServices() {
		for _, dep := range p.store.GetDependencies(svc.Name) {
			if !known[dep.DependsOn] {
				p.store.AddFlag(model.Flag{
					Service: svc.Name,
					Type:    model.FlagMissingDependency,
					Message: fmt.Sprintf("depends on %q which is not a known service", dep.DependsOn),
				})
			}
		}

		if svc.Type == model.ServiceTypeApp {
			p.checkExpectedVariables(svc)
			p.checkDatabaseConfig(svc)
		}
	}

	p.checkInconsistentVariables(known)
}

// expectedVariablesByStack are the stack-specific variables spec.md
// describes generically ("an app framework's application-key and
// environment"), grounded on Laravel's APP_KEY/APP_ENV convention as the
// representative case from original_source/discover.py's comments.
var expectedVariablesByStack = map[string][]string{
	"laravel": {"APP_KEY", "APP_ENV"},
	"django":  {"SECRET_KEY", "DJANGO_SETTINGS_MODULE"},
}

func (p *Pipeline) checkExpectedVariables(svc model.Service) {
	expected, ok := expectedVariablesByStack[svc.Stack]
	if !ok {
		return
	}

	present := map[string]bool{}
	for _, v := range p.store.GetVariables(svc.Name) {
		present[v.Key] = true
	}

	for _, key := range expected {
		if !present[key] {
			p.store.AddFlag(model.Flag{
				Service: svc.Name,
				Type:    model.FlagMissingVariable,
				Message: fmt.Sprintf("expected variable %q is not set", key),
			})
		}
	}
}

func (p *Pipeline) checkDatabaseConfig(svc model.Service) {
	for _, v := range p.store.GetVariables(svc.Name) {
		if hostKeyPattern.MatchString(v.Key) {
			return
		}
	}
	p.store.AddFlag(model.Flag{
		Service: svc.Name,
		Type:    model.FlagNoDatabaseConfig,
		Message: "app service has no database-looking variables configured",
	})
}

func (p *Pipeline) checkInconsistentVariables(known map[string]bool) {
	byKey := p.store.AllVariablesByKey()

	for key, vars := range byKey {
		if exemptVariables[strings.ToUpper(key)] {
			continue
		}
		distinct := map[string]bool{}
		for _, v := range vars {
			distinct[v.Value] = true
		}
		if len(vars) <= 1 || len(distinct) <= 1 {
			continue
		}

		for _, v := range vars {
			others := make([]string, 0, len(vars)-1)
			for _, other := range vars {
				if other.Service != v.Service {
					others = append(others, other.Service)
				}
			}
			p.store.AddFlag(model.Flag{
				Service: v.Service,
				Type:    model.FlagInconsistentVariable,
				Message: fmt.Sprintf("%s=%q differs from the same key in %s", key, v.Value, strings.Join(others, ", ")),
			})
		}
	}
}
