/*
Package auth defines the caller identity and permission boundary.

User authentication and permission lookup are external concerns; this
package specifies their interfaces and ships two provider implementations:
NopProvider, which trusts every request as a fixed local user (the
development default), and JWTProvider, which verifies HS256 bearer tokens
and reads the caller from the user_id or sub claim.

The API middleware resolves an Identity through a Provider before any
handler runs, and consults a PermissionChecker before any store mutation.
AllowAll is the stand-in checker until a deployment wires a real permission
service.

Errors follow two sentinels: ErrUnauthorized when no usable identity was
presented, ErrForbidden when a known identity is denied. The API layer maps
them to 401 and 403.
*/
package auth
