package skills

// privilegedAllowlist is the compile-time set of skill names authorized to
// run with elevated host access. This is source, never config: it must not
// be toggleable at runtime and must not appear in any persona or manifest
// (spec §9 "No dev mode back door"; invariant 5).
var privilegedAllowlist = map[string]bool{
	"file_ops":   true,
	"shell_exec": true,
	"vault_admin": true,
}

// recomputePrivilege is called after every manifest load, install, or
// upgrade: the on-disk value is discarded and replaced with the allowlist
// membership test (invariant 5).
func recomputePrivilege(m Manifest) Manifest {
	m.Privileged = privilegedAllowlist[m.Name]
	return m
}

// protectedBuiltins may never be removed via Remove (spec §4.4 "Remove").
var protectedBuiltins = map[string]bool{
	"file_ops":   true,
	"shell_exec": true,
}
