// Package ir is the host representation that veil transforms: a small typed
// control-flow-graph IR in the style of LLVM.
//
// A Module holds globals and functions; a Function holds basic blocks of
// instructions ending in a terminator. The textual form is line oriented:
//
//	@counter = internal global i32 0
//
//	define i32 @add(i32 %a, i32 %b) {
//	entry:
//	  %s = add i32 %a, %b
//	  ret i32 %s
//	}
//
// Parse and Module.String convert between text and the in-memory form,
// Builder creates instructions programmatically and Verify checks structural
// and type rules. Evaluator interprets a module directly; declared functions
// can be bound to Go implementations with WithIntrinsic.
//
// Values are typed with Type, whose scalar members map one to one onto the
// avm value kinds, so constants and evaluation results are avm.Values.
package ir
