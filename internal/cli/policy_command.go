package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/temirov/ctxchat/internal/types"
)

const (
	policyUse              = "policy"
	policyAlias            = "p"
	policyShortDescription = "inspect and change inclusion policies (" + policyAlias + ")"
	policyLongDescription  = `Every workspace path has an inclusion policy: treeOnly (the default),
fullContent, signatures or excluded. Excluding a directory hides everything
beneath it. Policies are stored in .ctxchat/state.json.`

	policyCycleUse              = "cycle <path>"
	policyCycleShortDescription = "advance a path through treeOnly, fullContent and signatures"
	policySetUse                = "set <policy> <paths...>"
	policySetShortDescription   = "apply a policy to paths"
	policySetLongDescription    = `Apply a policy to every file beneath the given paths. Accepted policies:
fullContent (full, content), signatures (sig), excluded (exclude) and treeOnly (tree, none).
With --recursive=false the policy is stored on each path itself, which is how a
whole directory is excluded.`
	policySetUsageExample = `  # Include the full content of every file under internal/
  ctxchat policy set full internal

  # Hide a directory and everything beneath it
  ctxchat policy set excluded --recursive=false vendor`
	policyShowUse              = "show <paths...>"
	policyShowShortDescription = "print the effective policy of paths"
	policyListUse              = "list"
	policyListShortDescription = "print every stored policy"

	recursiveFlagName        = "recursive"
	recursiveFlagDescription = "expand directories and apply the policy to each file"

	policyLineFormat        = "%-10s %s\n"
	policyShowLineFormat    = "%-10s %-10s %s\n"
	policyAppliedFormat     = "%s: %d path(s)\n"
	noStoredPoliciesMessage = "No stored policies"
	explicitInheritedMarker = "inherited"
	explicitUnsetMarker     = "-"
)

// createPolicyCommand returns the policy command group.
func createPolicyCommand(app *application) *cobra.Command {
	policyCommand := &cobra.Command{
		Use:     policyUse,
		Aliases: []string{policyAlias},
		Short:   policyShortDescription,
		Long:    policyLongDescription,
	}
	policyCommand.AddCommand(
		createPolicyCycleCommand(app),
		createPolicySetCommand(app),
		createPolicyShowCommand(app),
		createPolicyListCommand(app),
	)
	return policyCommand
}

func createPolicyCycleCommand(app *application) *cobra.Command {
	return &cobra.Command{
		Use:   policyCycleUse,
		Short: policyCycleShortDescription,
		Args:  cobra.ExactArgs(1),
		RunE: func(command *cobra.Command, arguments []string) error {
			ws, openErr := app.openWorkspace(command, contextFlags{})
			if openErr != nil {
				return openErr
			}
			path, pathErr := app.resolveArgumentPath(arguments[0])
			if pathErr != nil {
				return pathErr
			}
			next := ws.session.CyclePolicy(path)
			fmt.Fprintf(command.OutOrStdout(), policyLineFormat, next, ws.displayPath(path))
			return nil
		},
	}
}

func createPolicySetCommand(app *application) *cobra.Command {
	recursive := true

	setCommand := &cobra.Command{
		Use:     policySetUse,
		Short:   policySetShortDescription,
		Long:    policySetLongDescription,
		Example: policySetUsageExample,
		Args:    cobra.MinimumNArgs(2),
		RunE: func(command *cobra.Command, arguments []string) error {
			policy, parseErr := types.ParsePolicy(arguments[0])
			if parseErr != nil {
				return parseErr
			}
			ws, openErr := app.openWorkspace(command, contextFlags{})
			if openErr != nil {
				return openErr
			}
			paths := make([]string, 0, len(arguments)-1)
			for _, argument := range arguments[1:] {
				path, pathErr := app.resolveArgumentPath(argument)
				if pathErr != nil {
					return pathErr
				}
				paths = append(paths, path)
			}

			if !recursive {
				for _, path := range paths {
					ws.session.SetPathPolicy(path, policy)
				}
				fmt.Fprintf(command.OutOrStdout(), policyAppliedFormat, policy, len(paths))
				return nil
			}
			touched, setErr := ws.session.SetPolicy(command.Context(), paths, policy)
			if setErr != nil {
				return setErr
			}
			fmt.Fprintf(command.OutOrStdout(), policyAppliedFormat, policy, len(touched))
			return nil
		},
	}
	setCommand.Flags().BoolVar(&recursive, recursiveFlagName, true, recursiveFlagDescription)
	return setCommand
}

func createPolicyShowCommand(app *application) *cobra.Command {
	return &cobra.Command{
		Use:   policyShowUse,
		Short: policyShowShortDescription,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(command *cobra.Command, arguments []string) error {
			ws, openErr := app.openWorkspace(command, contextFlags{})
			if openErr != nil {
				return openErr
			}
			for _, argument := range arguments {
				path, pathErr := app.resolveArgumentPath(argument)
				if pathErr != nil {
					return pathErr
				}
				effective := ws.store.EffectivePolicy(path)
				explicit := ws.store.ExplicitPolicy(path)
				source := explicit.String()
				switch {
				case effective == types.PolicyExcluded && explicit != types.PolicyExcluded:
					source = explicitInheritedMarker
				case explicit == types.PolicyTreeOnly:
					source = explicitUnsetMarker
				}
				fmt.Fprintf(command.OutOrStdout(), policyShowLineFormat, effective, source, ws.displayPath(path))
			}
			return nil
		},
	}
}

func createPolicyListCommand(app *application) *cobra.Command {
	return &cobra.Command{
		Use:   policyListUse,
		Short: policyListShortDescription,
		Args:  cobra.NoArgs,
		RunE: func(command *cobra.Command, arguments []string) error {
			ws, openErr := app.openWorkspace(command, contextFlags{})
			if openErr != nil {
				return openErr
			}
			entries := ws.store.Entries()
			if len(entries) == 0 {
				fmt.Fprintln(command.OutOrStdout(), noStoredPoliciesMessage)
				return nil
			}
			for _, entry := range entries {
				fmt.Fprintf(command.OutOrStdout(), policyLineFormat, entry.Policy, ws.displayPath(entry.Path))
			}
			return nil
		},
	}
}
