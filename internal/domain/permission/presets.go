package permission

var denyAll = DenyRule("*", "default deny")

// ReadOnly allows inspection commands and denies everything else.
func ReadOnly(opts ...Option) *Policy {
	return MustNew([]Rule{
		AllowRule("ls*", "list files"),
		AllowRule("cat*", "read files"),
		AllowRule("head*", "read file heads"),
		AllowRule("tail*", "read file tails"),
		AllowRule("grep*", "search file contents"),
		AllowRule("find*", "find files"),
		AllowRule("wc*", "count lines"),
		AllowRule("pwd", "show current directory"),
		denyAll,
	}, opts...)
}

// Minimal allows exactly the given command strings and nothing else:
// Minimal("tesseract") permits "tesseract" but not "tesseract --help".
func Minimal(commands []string, opts ...Option) (*Policy, error) {
	rules := make([]Rule, 0, len(commands)+1)
	for _, c := range commands {
		rules = append(rules, AllowRule(Literal(c), "exact command"))
	}
	return New(append(rules, denyAll), opts...)
}

// OnlyAllow allows the given glob patterns in order, then denies the rest.
func OnlyAllow(patterns []string, opts ...Option) (*Policy, error) {
	rules := make([]Rule, 0, len(patterns)+1)
	for _, p := range patterns {
		rules = append(rules, AllowRule(p, ""))
	}
	return New(append(rules, denyAll), opts...)
}

// Default is the stock developer policy. Destructive shapes are listed
// first so the broader allow rules below can never shadow them.
func Default(opts ...Option) *Policy {
	return MustNew([]Rule{
		DenyRule("rm -rf /", "prevent deleting the filesystem root"),
		DenyRule("rm -rf /*", "prevent deleting system directories"),
		DenyRule("chmod 777 /", "prevent opening up the filesystem root"),
		DenyRule("chmod 777 /*", "prevent opening up system directories"),
		DenyRule("sudo *", "prevent privilege escalation"),
		DenyRule("su *", "prevent user switching"),
		DenyRule("passwd*", "prevent password changes"),

		AllowRule("echo*", "print text"),
		AllowRule("ls*", "list files"),
		AllowRule("cat*", "read files"),
		AllowRule("pwd", "show current directory"),
		AllowRule("which*", "locate commands"),
		AllowRule("git status", "git status"),
		AllowRule("git add*", "git add"),
		AllowRule("git commit*", "git commit"),
		AllowRule("git log*", "git log"),
		AllowRule("git diff*", "git diff"),
		AllowRule("git show*", "git show"),
		AllowRule("cargo check", "cargo check"),
		AllowRule("cargo test", "cargo test"),
		AllowRule("cargo build*", "cargo build"),
		AllowRule("go build*", "go build"),
		AllowRule("go test*", "go test"),
		AllowRule("go vet*", "go vet"),
		AllowRule("npm test", "npm test"),
		AllowRule("npm install", "npm install"),
		AllowRule("npm run*", "npm scripts"),
		AllowRule("python*", "python"),
		AllowRule("make*", "make targets"),
		AllowRule("find*", "find files"),
		AllowRule("grep*", "search file contents"),
		AllowRule("head*", "read file heads"),
		AllowRule("tail*", "read file tails"),
		AllowRule("wc*", "count lines"),
		AllowRule("sort*", "sort lines"),
		AllowRule("uniq*", "deduplicate lines"),

		// interactive coding agents launched from the tool registry
		AllowRule("claude --print", "claude agent"),
		AllowRule("gemini --interactive", "gemini agent"),
		AllowRule("qwen-code --interactive", "qwen agent"),
		denyAll,
	}, opts...)
}
