/*
Package command turns a list of abstract fault commands into remote command
executions.

# Template Variables

A CommandInfo template may reference three namespaces:

	$FI_ARG_<key>       value of <key> in the fault arguments
	$FI_ADD_INFO_<key>  field <key> of the task's troubleshooting info
	$FI_STACK           trimmed output of the previous command in the list

Keys are made of letters, digits and underscores. Resolution happens before a
command is sent anywhere; any "$FI_" token left unresolved fails the list with
a MissingReferenceError. $FI_STACK in the first command of a list has nothing
to refer to and is unresolved.

# Execution

For each command, in order:

 1. Resolve the template
 2. Execute it, retrying up to NoOfRetries times with RetryInterval seconds
    between attempts when execution or validation fails
 3. Validate: a non-zero exit (unless IgnoreExitValueCheck) is matched against
    KnownFailureMap and raised as a DiagnosedError, or as a generic failure
    carrying the raw output; then the output must contain one entry of
    ExpectedOutputList when that list is set
 4. Apply extraction rules; an empty value is fatal because later commands
    may reference the field

# Errors

Every failure is an *Error with a Code, a *DiagnosedError, or a
*MissingReferenceError. ErrorCode and Diagnosis inspect a wrapped chain.
*/
package command
